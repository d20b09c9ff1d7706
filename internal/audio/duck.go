package audio

import (
	"bufio"
	"context"
	"fmt"
	log "log/slog"
	"math"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

const maxVolume = 150 // pactl percent ceiling

var percentRe = regexp.MustCompile(`(\d+)\s*%`)

// streamInfo is one PulseAudio/PipeWire sink input.
type streamInfo struct {
	ID      int
	Volume  int
	AppName string
}

type DuckConfig struct {
	SelfNames []string // application.name values that are never touched
	MinVolume int      // percent floor for ducked streams
	Factor    float64  // ducked volume = current * Factor
	Fade      time.Duration
}

func DefaultDuckConfig() DuckConfig {
	return DuckConfig{
		SelfNames: []string{"espeak-ng", "iris"},
		MinVolume: 10,
		Factor:    0.3,
		Fade:      200 * time.Millisecond,
	}
}

// pactl runs one pactl invocation and returns its stdout.
type pactl func(ctx context.Context, args ...string) ([]byte, error)

func runPactl(ctx context.Context, args ...string) ([]byte, error) {
	out, err := exec.CommandContext(ctx, "pactl", args...).Output()
	if err != nil {
		return nil, fmt.Errorf("pactl %s: %w", args[0], err)
	}
	return out, nil
}

// Ducker lowers every other sink input while Iris speaks and brings each one
// back to the level it had before.
type Ducker struct {
	cfg  DuckConfig
	run  pactl
	step time.Duration

	mu     sync.Mutex
	ducked map[int]int // sink input id -> volume before ducking, nil when idle
}

func NewDucker(cfg DuckConfig) *Ducker {
	cfg.MinVolume = min(max(cfg.MinVolume, 0), maxVolume)
	return &Ducker{cfg: cfg, run: runPactl, step: 10 * time.Millisecond}
}

// Duck fades foreign streams to current*Factor, but not below MinVolume.
// Ducking twice without a Restore is a no-op.
func (d *Ducker) Duck(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.ducked != nil {
		return nil
	}

	streams, err := d.foreignStreams(ctx)
	if err != nil {
		return err
	}

	ducked := make(map[int]int, len(streams))
	from := make(map[int]int, len(streams))
	to := make(map[int]int, len(streams))
	for _, s := range streams {
		ducked[s.ID] = s.Volume
		from[s.ID] = s.Volume
		to[s.ID] = duckedVolume(s.Volume, d.cfg.Factor, d.cfg.MinVolume)
	}

	// marked before fading so a partial fade still gets restored
	d.ducked = ducked

	log.Debug("Ducking other audio", "streams", len(streams))

	return d.fade(ctx, from, to)
}

// Restore fades streams ducked earlier back to their original volume.
// Streams that appeared in between are left alone.
func (d *Ducker) Restore(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.ducked == nil {
		return nil
	}

	streams, err := d.foreignStreams(ctx)
	if err != nil {
		return err
	}

	from := make(map[int]int)
	to := make(map[int]int)
	for _, s := range streams {
		if orig, ok := d.ducked[s.ID]; ok {
			from[s.ID] = s.Volume
			to[s.ID] = orig
		}
	}

	d.ducked = nil

	return d.fade(ctx, from, to)
}

func (d *Ducker) foreignStreams(ctx context.Context) ([]streamInfo, error) {
	out, err := d.run(ctx, "list", "sink-inputs")
	if err != nil {
		return nil, err
	}

	var res []streamInfo
	for _, s := range parseSinkInputs(string(out)) {
		if !d.isSelfStream(s) {
			res = append(res, s)
		}
	}

	return res, nil
}

func (d *Ducker) isSelfStream(s streamInfo) bool {
	for _, name := range d.cfg.SelfNames {
		if s.AppName == name {
			return true
		}
	}
	return false
}

// fade moves every stream linearly from its start to its end volume over
// the configured duration.
func (d *Ducker) fade(ctx context.Context, from, to map[int]int) error {
	if len(to) == 0 {
		return nil
	}

	steps := 1
	if d.step > 0 && d.cfg.Fade > d.step {
		steps = int(d.cfg.Fade / d.step)
	}

	ticker := time.NewTicker(max(d.cfg.Fade/time.Duration(steps), time.Millisecond))
	defer ticker.Stop()

	for i := 1; i <= steps; i++ {
		frac := float64(i) / float64(steps)

		for id, end := range to {
			start := from[id]
			v := int(math.Round(float64(start) + float64(end-start)*frac))

			if err := d.setVolume(ctx, id, v); err != nil {
				return err
			}
		}

		if i == steps {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}

	return nil
}

func (d *Ducker) setVolume(ctx context.Context, id, percent int) error {
	percent = min(max(percent, 0), maxVolume)

	_, err := d.run(ctx, "set-sink-input-volume", strconv.Itoa(id), fmt.Sprintf("%d%%", percent))
	if err != nil {
		return fmt.Errorf("set volume of sink input %d: %w", id, err)
	}

	return nil
}

func duckedVolume(from int, factor float64, floor int) int {
	v := math.Max(float64(from)*factor, float64(floor))
	return int(math.Round(math.Min(v, maxVolume)))
}

// parseSinkInputs reads the output of `pactl list sink-inputs`, keeping the
// first volume and application name of every block.
func parseSinkInputs(text string) []streamInfo {
	var (
		res []streamInfo
		cur *streamInfo
	)

	flush := func() {
		if cur != nil && (cur.Volume != 0 || cur.AppName != "") {
			res = append(res, *cur)
		}
		cur = nil
	}

	sc := bufio.NewScanner(strings.NewReader(text))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())

		if rest, ok := strings.CutPrefix(line, "Sink Input #"); ok {
			flush()
			if id, err := strconv.Atoi(strings.TrimSpace(rest)); err == nil {
				cur = &streamInfo{ID: id}
			}
			continue
		}

		if cur == nil {
			continue
		}

		switch {
		case strings.HasPrefix(line, "Volume:") && cur.Volume == 0:
			if m := percentRe.FindStringSubmatch(line); m != nil {
				cur.Volume, _ = strconv.Atoi(m[1])
			}
		case strings.HasPrefix(line, "application.name =") && cur.AppName == "":
			_, value, _ := strings.Cut(line, "=")
			cur.AppName = strings.Trim(strings.TrimSpace(value), `"`)
		}
	}
	flush()

	return res
}
