// Package sampler implements the point-neighborhood sampling and
// validity-aggregation algorithm: for each configured pixel coordinate it
// scans a square window out of a full-depth frame, filters sentinel codes,
// and accepts the pass only if enough pixels in the window carried a
// physical reading.
package sampler

import (
	"errors"
	"fmt"

	"github.com/depth-data/distance.report/internal/frame"
	"github.com/depth-data/distance.report/internal/timeutil"
)

// DefaultHalfWidth gives the 5x5 neighborhood used by the deployed sensors.
const DefaultHalfWidth = 2

// DefaultMinValidPixels accepts a pass when 6 of 25 window pixels (25%) are
// in range.
const DefaultMinValidPixels = 6

var (
	// ErrNoFrameData aborts a whole sampling pass: the capture source
	// produced no usable distance buffer. Callers keep their previous
	// results.
	ErrNoFrameData = errors.New("sampler: no frame data")

	// ErrInvalidPoint rejects a point whose window would read outside the
	// frame. Raised at configuration time, never during sampling.
	ErrInvalidPoint = errors.New("sampler: point window outside frame bounds")
)

// Point is a named sample location. The window scanned around (X, Y) spans
// (2*HalfWidth+1)^2 pixels.
type Point struct {
	Name      string
	X, Y      int
	HalfWidth int
}

// WindowArea returns the number of pixels in the point's window.
func (p Point) WindowArea() int {
	side := 2*p.HalfWidth + 1
	return side * side
}

// Validate rejects the point if its window extends outside a width x height
// frame. Running this at configuration-load time keeps the sampling hot
// path free of bounds checks.
func (p Point) Validate(width, height int) error {
	if p.HalfWidth < 0 {
		return fmt.Errorf("%w: %s has negative half-width %d", ErrInvalidPoint, p.Name, p.HalfWidth)
	}
	if p.X-p.HalfWidth < 0 || p.X+p.HalfWidth >= width ||
		p.Y-p.HalfWidth < 0 || p.Y+p.HalfWidth >= height {
		return fmt.Errorf("%w: %s at (%d,%d) half-width %d on %dx%d frame",
			ErrInvalidPoint, p.Name, p.X, p.Y, p.HalfWidth, width, height)
	}
	return nil
}

// Result is the outcome of one sampling pass for one point.
//
// When a pass fails the validity threshold, AvgDistance, MinDistance,
// MaxDistance and LastUpdate deliberately carry the values of the previous
// successful pass while ValidPixels and Valid always reflect the current
// pass. Consumers detect staleness through LastUpdate rather than the
// distance fields; see the age_seconds field in the published JSON.
type Result struct {
	Name        string
	X, Y        int
	AvgDistance float64 // mm
	MinDistance float64 // mm
	MaxDistance float64 // mm
	ValidPixels int
	Valid       bool
	LastUpdate  int64 // unix seconds of the last successful pass, 0 if never
}

// WindowDumpFunc receives the raw window values scanned for one point,
// row-major, before filtering. Purely diagnostic; see monitoring.DumpWindow.
type WindowDumpFunc func(p Point, raw []uint16, validPixels int)

// Sampler computes Results from depth frames. It holds no frame state; the
// carry-forward dependency on the previous pass is an explicit argument to
// Sample.
type Sampler struct {
	MinValidPixels int
	Clock          timeutil.Clock

	// DumpWindow, when non-nil, is invoked with the raw window snapshot of
	// every sampled point.
	DumpWindow WindowDumpFunc
}

// New returns a Sampler with the given validity threshold. A threshold
// below 1 falls back to DefaultMinValidPixels.
func New(minValidPixels int) *Sampler {
	if minValidPixels < 1 {
		minValidPixels = DefaultMinValidPixels
	}
	return &Sampler{
		MinValidPixels: minValidPixels,
		Clock:          timeutil.RealClock{},
	}
}

// Sample runs one pass over f for every point, in input order.
//
// prev supplies the results of the previous pass, matched by point name;
// points without a previous result start from a zero Result. The frame is
// only read, never retained or mutated.
func (s *Sampler) Sample(f *frame.Frame, points []Point, prev []Result) ([]Result, error) {
	if f.Empty() {
		return nil, ErrNoFrameData
	}

	prevByName := make(map[string]Result, len(prev))
	for _, r := range prev {
		prevByName[r.Name] = r
	}

	results := make([]Result, 0, len(points))
	for _, p := range points {
		results = append(results, s.samplePoint(f, p, prevByName[p.Name]))
	}
	return results, nil
}

func (s *Sampler) samplePoint(f *frame.Frame, p Point, prev Result) Result {
	var (
		sum   float64
		count int
		min   = float64(frame.MaxDistance)
		max   float64
	)

	var raw []uint16
	if s.DumpWindow != nil {
		raw = make([]uint16, 0, p.WindowArea())
	}

	// Row-major within the window for deterministic debug dumps.
	for dy := -p.HalfWidth; dy <= p.HalfWidth; dy++ {
		for dx := -p.HalfWidth; dx <= p.HalfWidth; dx++ {
			d := f.At(p.X+dx, p.Y+dy)
			if raw != nil {
				raw = append(raw, d)
			}
			if !frame.InRange(d) {
				continue
			}
			sum += float64(d)
			count++
			if fd := float64(d); fd < min {
				min = fd
			}
			if fd := float64(d); fd > max {
				max = fd
			}
		}
	}

	if s.DumpWindow != nil {
		s.DumpWindow(p, raw, count)
	}

	res := Result{
		Name:        p.Name,
		X:           p.X,
		Y:           p.Y,
		ValidPixels: count,
	}
	if count >= s.MinValidPixels {
		res.AvgDistance = sum / float64(count)
		res.MinDistance = min
		res.MaxDistance = max
		res.Valid = true
		res.LastUpdate = s.now()
	} else {
		// Carry-forward policy: distance fields and timestamp keep the
		// previous successful pass.
		res.AvgDistance = prev.AvgDistance
		res.MinDistance = prev.MinDistance
		res.MaxDistance = prev.MaxDistance
		res.LastUpdate = prev.LastUpdate
	}
	return res
}

func (s *Sampler) now() int64 {
	if s.Clock == nil {
		return timeutil.RealClock{}.Now().Unix()
	}
	return s.Clock.Now().Unix()
}

// ValidatePoints filters points down to those whose windows fit inside a
// width x height frame. Rejected points are reported through the returned
// errors but never abort loading; this mirrors the configuration-time drop
// semantics of the service.
func ValidatePoints(points []Point, width, height int) (valid []Point, rejected []error) {
	for _, p := range points {
		if err := p.Validate(width, height); err != nil {
			rejected = append(rejected, err)
			continue
		}
		valid = append(valid, p)
	}
	return valid, rejected
}
