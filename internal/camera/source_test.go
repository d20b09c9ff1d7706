package camera_test

import (
	"bytes"
	"errors"
	"image"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"iris/internal/camera"
	"iris/internal/camera/camtest"
)

func newSource(o *camtest.Opener) *camera.Source {
	return camera.NewSource(o, camera.Config{DeviceIndices: 5, JoinTimeout: time.Second})
}

func TestSource_FallsBackToFirstWorkingIndex(t *testing.T) {
	o := &camtest.Opener{Broken: map[int]bool{0: true, 1: true}}
	s := newSource(o)
	defer s.Stop()

	if !s.Start() {
		t.Fatal("Start: expected true")
	}

	if got := s.ActiveIndex(); got != 2 {
		t.Errorf("ActiveIndex: got %d, want 2", got)
	}

	want := []int{0, 1, 2}
	if !slices.Equal(o.Opened(), want) {
		t.Errorf("Opened: got %v, want %v", o.Opened(), want)
	}
}

func TestSource_SkipsDeviceWithEmptyFrames(t *testing.T) {
	o := &camtest.Opener{Blank: map[int]bool{0: true}}
	s := newSource(o)
	defer s.Stop()

	if !s.Start() {
		t.Fatal("Start: expected true")
	}

	if got := s.ActiveIndex(); got != 1 {
		t.Errorf("ActiveIndex: got %d, want 1", got)
	}

	if got := o.Device(0).Closed(); got != 1 {
		t.Errorf("blank device closed %d times, want 1", got)
	}
}

func TestSource_NoDevice(t *testing.T) {
	o := &camtest.Opener{Broken: map[int]bool{0: true, 1: true, 2: true, 3: true, 4: true}}
	s := newSource(o)

	if s.Start() {
		t.Fatal("Start: expected false with no usable device")
	}
	if s.Active() {
		t.Error("Active: expected false")
	}
	if s.ActiveIndex() != -1 {
		t.Errorf("ActiveIndex: got %d, want -1", s.ActiveIndex())
	}
	if !s.Stop() {
		t.Error("Stop on a never-started source should report true")
	}
}

func TestSource_StartIsIdempotent(t *testing.T) {
	o := &camtest.Opener{}

	var mu sync.Mutex
	var transitions []bool

	s := newSource(o)
	s.OnStateChange(func(capturing bool) {
		mu.Lock()
		transitions = append(transitions, capturing)
		mu.Unlock()
	})
	defer s.Stop()

	if !s.Start() || !s.Start() {
		t.Fatal("Start: expected true twice")
	}

	if got := len(o.Opened()); got != 1 {
		t.Errorf("devices opened: got %d, want 1", got)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(transitions) != 1 || !transitions[0] {
		t.Errorf("transitions: got %v, want [true]", transitions)
	}
}

func TestSource_CurrentFrameReturnsIsolatedCopies(t *testing.T) {
	o := &camtest.Opener{}
	s := newSource(o)
	defer s.Stop()

	if !s.Start() {
		t.Fatal("Start: expected true")
	}

	first := s.CurrentFrame()
	if first == nil {
		t.Fatal("CurrentFrame: expected the trial frame")
	}

	dev := o.Device(0)
	seen := dev.Reads()
	if !camtest.Eventually(time.Second, func() bool { return dev.Reads() > seen+2 }) {
		t.Fatal("capture loop did not overwrite its buffer")
	}

	second := s.CurrentFrame()
	if first == second || &first.Image.Pix[0] == &second.Image.Pix[0] {
		t.Fatal("consecutive frames share memory")
	}

	before := append([]byte(nil), second.Image.Pix...)
	for i := range first.Image.Pix {
		first.Image.Pix[i] = 0
	}

	if !bytes.Equal(before, second.Image.Pix) {
		t.Error("mutating one copy changed another")
	}

	third := s.CurrentFrame()
	if third.Image.Pix[3] != 0xff {
		t.Error("mutating a copy reached the source buffer")
	}
}

func TestSource_StopReleasesDeviceOnce(t *testing.T) {
	o := &camtest.Opener{}
	s := newSource(o)

	var mu sync.Mutex
	var transitions []bool
	s.OnStateChange(func(capturing bool) {
		mu.Lock()
		transitions = append(transitions, capturing)
		mu.Unlock()
	})

	if !s.Start() {
		t.Fatal("Start: expected true")
	}
	if !s.Stop() || !s.Stop() {
		t.Fatal("Stop: expected true twice")
	}

	if got := o.Device(0).Closed(); got != 1 {
		t.Errorf("device closed %d times, want 1", got)
	}
	if s.Active() {
		t.Error("Active: expected false after Stop")
	}
	if s.CurrentFrame() != nil {
		t.Error("CurrentFrame: expected nil after Stop")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(transitions) != 2 || transitions[0] != true || transitions[1] != false {
		t.Errorf("transitions: got %v, want [true false]", transitions)
	}
}

func TestSource_ReadFailureEndsCapture(t *testing.T) {
	o := &camtest.Opener{FailAfter: 4}
	s := newSource(o)

	if !s.Start() {
		t.Fatal("Start: expected true")
	}

	if !camtest.Eventually(time.Second, func() bool { return !s.Active() }) {
		t.Fatal("capture still active after read failure")
	}

	dev := o.Device(0)
	if got := dev.Closed(); got != 1 {
		t.Errorf("device closed %d times after failure, want 1", got)
	}
	if s.CurrentFrame() != nil {
		t.Error("CurrentFrame: expected nil once the device failed")
	}

	s.Stop()
	if got := dev.Closed(); got != 1 {
		t.Errorf("device closed %d times after Stop, want 1", got)
	}

	// a dead session can be restarted on a fresh device
	o.FailAfter = 0
	if !s.Start() {
		t.Fatal("restart: expected true")
	}
	s.Stop()
}

// stuckDevice yields one frame and then blocks in Read until released.
type stuckDevice struct {
	release <-chan struct{}
	reads   atomic.Int32
}

func (d *stuckDevice) Read() (image.Image, error) {
	if d.reads.Add(1) == 1 {
		return image.NewRGBA(image.Rect(0, 0, 4, 4)), nil
	}
	<-d.release
	return nil, errors.New("device gone")
}

func (d *stuckDevice) Close() error { return nil }

func TestSource_ZeroConfigStopIsBounded(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	dev := &stuckDevice{release: release}
	s := camera.NewSource(camera.OpenerFunc(func(int) (camera.Device, error) { return dev, nil }), camera.Config{})

	if !s.Start() {
		t.Fatal("Start: expected true")
	}
	if !camtest.Eventually(time.Second, func() bool { return dev.reads.Load() >= 2 }) {
		t.Fatal("capture loop never blocked in Read")
	}

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(3 * time.Second):
		t.Fatal("Stop waited on a stuck capture loop")
	}

	if s.Active() {
		t.Error("Active: expected false after Stop")
	}
}

func TestSaveImage(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	f := camera.NewFrame(img, time.Now())
	dir := t.TempDir()

	for _, name := range []string{"shot.png", "shot.jpg", "nested/dir/shot.jpeg"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			if err := camera.SaveImage(f, path); err != nil {
				t.Fatalf("SaveImage: %v", err)
			}
			info, err := os.Stat(path)
			if err != nil || info.Size() == 0 {
				t.Fatalf("expected a non-empty file, stat err=%v", err)
			}
		})
	}

	t.Run("empty frame", func(t *testing.T) {
		err := camera.SaveImage(nil, filepath.Join(dir, "none.jpg"))
		if !errors.Is(err, camera.ErrPersist) {
			t.Errorf("got %v, want ErrPersist", err)
		}
	})
}

func TestRegionRoundTrip(t *testing.T) {
	r := camera.Region{X: 10, Y: 20, Width: 30, Height: 40}
	if got := camera.RegionFromRect(r.Rect()); got != r {
		t.Errorf("got %+v, want %+v", got, r)
	}
}
