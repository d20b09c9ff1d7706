package session

import "time"

type EventKind int

const (
	CaptureStarted EventKind = iota
	CaptureStopped
	AnalysisStarted
	AnalysisStopped
)

func (k EventKind) String() string {
	switch k {
	case CaptureStarted:
		return "capture-started"
	case CaptureStopped:
		return "capture-stopped"
	case AnalysisStarted:
		return "analysis-started"
	case AnalysisStopped:
		return "analysis-stopped"
	default:
		return "unknown"
	}
}

// Event is a state transition of the session.
type Event struct {
	Kind EventKind
	At   time.Time
}
