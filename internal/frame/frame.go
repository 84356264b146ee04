// Package frame models one full-resolution depth image captured from the
// HPS3D-160 sensor: a width x height grid of uint16 distances in millimeters
// plus the reserved sentinel codes the sensor uses to mark non-physical
// readings.
package frame

import (
	"fmt"
	"time"
)

// Code is a reserved distance value marking a non-physical reading.
type Code uint16

const (
	// MaxDistance is the upper bound for physical readings; values at or
	// above it are either sentinels or garbage.
	MaxDistance uint16 = 65000

	LowAmplitude Code = 65001
	Saturation   Code = 65002
	ADCOverflow  Code = 65003
	InvalidData  Code = 65004
)

// String returns the sensor documentation name for the code.
func (c Code) String() string {
	switch c {
	case LowAmplitude:
		return "low_amplitude"
	case Saturation:
		return "saturation"
	case ADCOverflow:
		return "adc_overflow"
	case InvalidData:
		return "invalid_data"
	default:
		return fmt.Sprintf("code(%d)", uint16(c))
	}
}

// IsSentinel reports whether v is one of the reserved error codes.
func IsSentinel(v uint16) bool {
	switch Code(v) {
	case LowAmplitude, Saturation, ADCOverflow, InvalidData:
		return true
	}
	return false
}

// InRange reports whether v is a usable physical distance: strictly
// positive, below MaxDistance and not a sentinel code.
func InRange(v uint16) bool {
	return v > 0 && v < MaxDistance && !IsSentinel(v)
}

// EventType tags what kind of capture produced a frame. Only full-depth
// frames carry a complete distance grid the sampler can use.
type EventType int

const (
	EventNull EventType = iota
	EventSimpleROI
	EventFullROI
	EventSimpleDepth
	EventFullDepth
)

// Frame is one depth image. Distances are row-major, index = y*Width + x.
// Frames are created by a capture source and never mutated afterwards.
type Frame struct {
	Width      int
	Height     int
	Event      EventType
	CapturedAt time.Time
	Distances  []uint16
}

// New allocates a zeroed frame with the given geometry.
func New(width, height int) *Frame {
	return &Frame{
		Width:     width,
		Height:    height,
		Event:     EventFullDepth,
		Distances: make([]uint16, width*height),
	}
}

// Empty reports whether the frame carries no usable distance buffer.
func (f *Frame) Empty() bool {
	return f == nil || len(f.Distances) == 0 || f.Width <= 0 || f.Height <= 0
}

// At returns the raw distance at pixel (x, y). Bounds are the caller's
// responsibility; point windows are validated at configuration time so the
// sampling hot path stays check-free.
func (f *Frame) At(x, y int) uint16 {
	return f.Distances[y*f.Width+x]
}

// Set writes the raw distance at pixel (x, y).
func (f *Frame) Set(x, y int, v uint16) {
	f.Distances[y*f.Width+x] = v
}

// CloudPoint is one in-range pixel of a frame, as published on the
// pointcloud topic.
type CloudPoint struct {
	X int    `json:"x"`
	Y int    `json:"y"`
	D uint16 `json:"d"`
}

// Cloud is the point-cloud document for one frame.
type Cloud struct {
	Timestamp int64        `json:"timestamp"`
	Width     int          `json:"width"`
	Height    int          `json:"height"`
	Data      []CloudPoint `json:"data"`
}

// PointCloud extracts every in-range pixel of the frame, row-major.
func (f *Frame) PointCloud() *Cloud {
	c := &Cloud{
		Timestamp: f.CapturedAt.Unix(),
		Width:     f.Width,
		Height:    f.Height,
		Data:      make([]CloudPoint, 0, len(f.Distances)),
	}
	for y := 0; y < f.Height; y++ {
		for x := 0; x < f.Width; x++ {
			if d := f.At(x, y); InRange(d) {
				c.Data = append(c.Data, CloudPoint{X: x, Y: y, D: d})
			}
		}
	}
	return c
}
