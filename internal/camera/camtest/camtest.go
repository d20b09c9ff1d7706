// Package camtest provides in-memory camera devices for tests.
package camtest

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"sync"
	"time"

	"iris/internal/camera"
)

var ErrReadFailed = errors.New("camtest: read failed")

// Device produces small solid frames whose colour changes on every read.
type Device struct {
	Index int

	mu        sync.Mutex
	reads     int
	closed    int
	blank     bool
	failAfter int
	delay     time.Duration
}

func (d *Device) Read() (image.Image, error) {
	d.mu.Lock()
	d.reads++
	n := d.reads
	blank, failAfter, delay := d.blank, d.failAfter, d.delay
	d.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	if blank {
		return image.NewRGBA(image.Rectangle{}), nil
	}
	if failAfter > 0 && n > failAfter {
		return nil, ErrReadFailed
	}

	img := image.NewRGBA(image.Rect(0, 0, 8, 6))
	c := color.RGBA{R: uint8(n), G: uint8(d.Index), B: 0x40, A: 0xff}
	for y := 0; y < 6; y++ {
		for x := 0; x < 8; x++ {
			img.SetRGBA(x, y, c)
		}
	}

	return img, nil
}

func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed++
	return nil
}

func (d *Device) Reads() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reads
}

// Closed reports how many times Close was called.
func (d *Device) Closed() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// Opener hands out Devices. Indices in Broken fail to open, indices in Blank
// open but only yield empty frames.
type Opener struct {
	Broken    map[int]bool
	Blank     map[int]bool
	FailAfter int           // reads before every device starts failing, 0 = never
	Delay     time.Duration // per-read latency, keeps capture loops from spinning

	mu      sync.Mutex
	opened  []int
	devices map[int]*Device
}

func (o *Opener) Open(index int) (camera.Device, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.opened = append(o.opened, index)

	if o.Broken[index] {
		return nil, fmt.Errorf("camtest: device %d unavailable", index)
	}

	delay := o.Delay
	if delay == 0 {
		delay = 2 * time.Millisecond
	}

	d := &Device{
		Index:     index,
		blank:     o.Blank[index],
		failAfter: o.FailAfter,
		delay:     delay,
	}

	if o.devices == nil {
		o.devices = make(map[int]*Device)
	}
	o.devices[index] = d

	return d, nil
}

// Opened lists the indices passed to Open, in call order.
func (o *Opener) Opened() []int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]int(nil), o.opened...)
}

// Device returns the most recent device opened at index.
func (o *Opener) Device(index int) *Device {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.devices[index]
}

// Eventually polls cond until it holds or the deadline passes.
func Eventually(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return cond()
}
