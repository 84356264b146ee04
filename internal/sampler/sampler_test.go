package sampler

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/depth-data/distance.report/internal/frame"
	"github.com/depth-data/distance.report/internal/timeutil"
)

const (
	testWidth  = 160
	testHeight = 60
)

// fillWindow writes vals row-major into the window around (x, y).
func fillWindow(f *frame.Frame, x, y, halfWidth int, vals []uint16) {
	i := 0
	for dy := -halfWidth; dy <= halfWidth; dy++ {
		for dx := -halfWidth; dx <= halfWidth; dx++ {
			f.Set(x+dx, y+dy, vals[i])
			i++
		}
	}
}

func uniformFrame(v uint16) *frame.Frame {
	f := frame.New(testWidth, testHeight)
	for i := range f.Distances {
		f.Distances[i] = v
	}
	return f
}

func newTestSampler(t *testing.T) (*Sampler, *timeutil.MockClock) {
	t.Helper()
	clock := timeutil.NewMockClock(time.Unix(1700000000, 0))
	s := New(DefaultMinValidPixels)
	s.Clock = clock
	return s, clock
}

func TestSampleAllPixelsInRange(t *testing.T) {
	s, _ := newTestSampler(t)
	f := frame.New(testWidth, testHeight)
	p := Point{Name: "point_1", X: 40, Y: 30, HalfWidth: 2}

	// 25 in-range values centered on 1000mm.
	vals := []uint16{
		995, 998, 1000, 1002, 1005,
		995, 998, 1000, 1002, 1005,
		995, 998, 1000, 1002, 1005,
		995, 998, 1000, 1002, 1005,
		995, 998, 1000, 1002, 1005,
	}
	fillWindow(f, p.X, p.Y, p.HalfWidth, vals)

	results, err := s.Sample(f, []Point{p}, nil)
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}

	r := results[0]
	if r.ValidPixels != 25 {
		t.Errorf("ValidPixels = %d, want 25", r.ValidPixels)
	}
	if !r.Valid {
		t.Error("expected valid result")
	}
	if r.AvgDistance != 1000 {
		t.Errorf("AvgDistance = %v, want 1000", r.AvgDistance)
	}
	if r.MinDistance != 995 || r.MaxDistance != 1005 {
		t.Errorf("Min/Max = %v/%v, want 995/1005", r.MinDistance, r.MaxDistance)
	}
	if r.LastUpdate != 1700000000 {
		t.Errorf("LastUpdate = %d, want mock clock time", r.LastUpdate)
	}
}

func TestSampleAllSentinelsInvalid(t *testing.T) {
	s, _ := newTestSampler(t)
	f := uniformFrame(uint16(frame.InvalidData))
	p := Point{Name: "p", X: 40, Y: 30, HalfWidth: 2}

	results, err := s.Sample(f, []Point{p}, nil)
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	r := results[0]
	if r.ValidPixels != 0 {
		t.Errorf("ValidPixels = %d, want 0", r.ValidPixels)
	}
	if r.Valid {
		t.Error("expected invalid result")
	}
}

func TestAverageBetweenMinAndMax(t *testing.T) {
	s, _ := newTestSampler(t)
	f := frame.New(testWidth, testHeight)
	p := Point{Name: "p", X: 80, Y: 20, HalfWidth: 2}
	vals := make([]uint16, 25)
	for i := range vals {
		vals[i] = uint16(400 + 37*i) // spread of in-range values
	}
	fillWindow(f, p.X, p.Y, p.HalfWidth, vals)

	results, err := s.Sample(f, []Point{p}, nil)
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	r := results[0]
	if !r.Valid {
		t.Fatal("expected valid result")
	}
	if r.AvgDistance < r.MinDistance || r.AvgDistance > r.MaxDistance {
		t.Errorf("average %v outside [%v, %v]", r.AvgDistance, r.MinDistance, r.MaxDistance)
	}
}

func TestSampleIdempotent(t *testing.T) {
	s, _ := newTestSampler(t)
	f := uniformFrame(1234)
	points := []Point{
		{Name: "a", X: 40, Y: 30, HalfWidth: 2},
		{Name: "b", X: 120, Y: 45, HalfWidth: 2},
	}

	first, err := s.Sample(f, points, nil)
	if err != nil {
		t.Fatalf("first Sample: %v", err)
	}
	second, err := s.Sample(f, points, first)
	if err != nil {
		t.Fatalf("second Sample: %v", err)
	}
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("repeated sampling of a static frame differs (-first +second):\n%s", diff)
	}
}

func TestThresholdBoundary(t *testing.T) {
	// Window area 25, threshold 6: exactly 5 in-range pixels is invalid,
	// exactly 6 is valid.
	for _, tc := range []struct {
		inRange int
		valid   bool
	}{
		{5, false},
		{6, true},
	} {
		s, _ := newTestSampler(t)
		f := uniformFrame(uint16(frame.InvalidData))
		p := Point{Name: "p", X: 40, Y: 30, HalfWidth: 2}

		vals := make([]uint16, 25)
		for i := range vals {
			if i < tc.inRange {
				vals[i] = 1000
			} else {
				vals[i] = uint16(frame.InvalidData)
			}
		}
		fillWindow(f, p.X, p.Y, p.HalfWidth, vals)

		results, err := s.Sample(f, []Point{p}, nil)
		if err != nil {
			t.Fatalf("Sample: %v", err)
		}
		r := results[0]
		if r.ValidPixels != tc.inRange {
			t.Errorf("ValidPixels = %d, want %d", r.ValidPixels, tc.inRange)
		}
		if r.Valid != tc.valid {
			t.Errorf("%d in-range pixels: Valid = %v, want %v", tc.inRange, r.Valid, tc.valid)
		}
	}
}

func TestCarryForwardOnInvalid(t *testing.T) {
	s, clock := newTestSampler(t)
	p := Point{Name: "point_1", X: 40, Y: 30, HalfWidth: 2}

	// First pass: clean frame establishes a valid result.
	clean := uniformFrame(1000)
	prev, err := s.Sample(clean, []Point{p}, nil)
	if err != nil {
		t.Fatalf("first Sample: %v", err)
	}
	firstUpdate := prev[0].LastUpdate

	// Second pass: 20 of 25 pixels are the invalid-data sentinel, 5 remain
	// in range. Below threshold, so the distance fields carry forward.
	clock.Advance(10 * time.Second)
	degraded := frame.New(testWidth, testHeight)
	vals := make([]uint16, 25)
	for i := range vals {
		if i < 5 {
			vals[i] = 2000 // fresh readings that must NOT surface
		} else {
			vals[i] = uint16(frame.InvalidData)
		}
	}
	fillWindow(degraded, p.X, p.Y, p.HalfWidth, vals)

	results, err := s.Sample(degraded, []Point{p}, prev)
	if err != nil {
		t.Fatalf("second Sample: %v", err)
	}
	r := results[0]
	if r.Valid {
		t.Error("expected invalid result below threshold")
	}
	if r.ValidPixels != 5 {
		t.Errorf("ValidPixels = %d, want 5", r.ValidPixels)
	}
	if r.AvgDistance != 1000 || r.MinDistance != 1000 || r.MaxDistance != 1000 {
		t.Errorf("carried fields changed: avg=%v min=%v max=%v, want 1000 each",
			r.AvgDistance, r.MinDistance, r.MaxDistance)
	}
	if r.LastUpdate != firstUpdate {
		t.Errorf("LastUpdate = %d, want carried %d", r.LastUpdate, firstUpdate)
	}
}

func TestSampleNoFrameData(t *testing.T) {
	s, _ := newTestSampler(t)
	points := []Point{{Name: "p", X: 40, Y: 30, HalfWidth: 2}}

	if _, err := s.Sample(nil, points, nil); !errors.Is(err, ErrNoFrameData) {
		t.Errorf("nil frame: err = %v, want ErrNoFrameData", err)
	}
	if _, err := s.Sample(&frame.Frame{Width: 160, Height: 60}, points, nil); !errors.Is(err, ErrNoFrameData) {
		t.Errorf("empty buffer: err = %v, want ErrNoFrameData", err)
	}
}

func TestValidatePointBounds(t *testing.T) {
	cases := []struct {
		name string
		p    Point
		ok   bool
	}{
		{"center", Point{Name: "c", X: 80, Y: 30, HalfWidth: 2}, true},
		{"corner too close", Point{Name: "corner", X: 1, Y: 1, HalfWidth: 2}, false},
		{"left edge exact", Point{Name: "edge", X: 2, Y: 2, HalfWidth: 2}, true},
		{"right overflow", Point{Name: "right", X: 158, Y: 30, HalfWidth: 2}, false},
		{"bottom overflow", Point{Name: "bottom", X: 80, Y: 58, HalfWidth: 2}, false},
		{"negative half-width", Point{Name: "neg", X: 80, Y: 30, HalfWidth: -1}, false},
	}
	for _, c := range cases {
		err := c.p.Validate(testWidth, testHeight)
		if c.ok && err != nil {
			t.Errorf("%s: unexpected error %v", c.name, err)
		}
		if !c.ok {
			if err == nil {
				t.Errorf("%s: expected rejection", c.name)
			} else if !errors.Is(err, ErrInvalidPoint) {
				t.Errorf("%s: err = %v, want ErrInvalidPoint", c.name, err)
			}
		}
	}
}

func TestValidatePointsDropsRejected(t *testing.T) {
	points := []Point{
		{Name: "ok", X: 40, Y: 30, HalfWidth: 2},
		{Name: "bad", X: 1, Y: 1, HalfWidth: 2},
		{Name: "ok2", X: 120, Y: 45, HalfWidth: 2},
	}
	valid, rejected := ValidatePoints(points, testWidth, testHeight)
	if len(valid) != 2 || valid[0].Name != "ok" || valid[1].Name != "ok2" {
		t.Errorf("valid = %+v", valid)
	}
	if len(rejected) != 1 {
		t.Errorf("rejected = %v", rejected)
	}
}

func TestOrderPreservedAndPerPointIsolation(t *testing.T) {
	s, _ := newTestSampler(t)
	f := uniformFrame(uint16(frame.InvalidData))
	good := Point{Name: "good", X: 40, Y: 30, HalfWidth: 2}
	bad := Point{Name: "bad", X: 120, Y: 45, HalfWidth: 2}
	fillWindow(f, good.X, good.Y, good.HalfWidth, func() []uint16 {
		vals := make([]uint16, 25)
		for i := range vals {
			vals[i] = 750
		}
		return vals
	}())

	results, err := s.Sample(f, []Point{bad, good}, nil)
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if results[0].Name != "bad" || results[1].Name != "good" {
		t.Fatalf("order not preserved: %s, %s", results[0].Name, results[1].Name)
	}
	if results[0].Valid {
		t.Error("bad point should be invalid")
	}
	if !results[1].Valid || results[1].AvgDistance != 750 {
		t.Errorf("good point unaffected by bad sibling: %+v", results[1])
	}
}

func TestWindowDumpHook(t *testing.T) {
	s, _ := newTestSampler(t)
	f := uniformFrame(1000)
	p := Point{Name: "p", X: 40, Y: 30, HalfWidth: 2}

	var dumped []uint16
	var dumpedCount int
	s.DumpWindow = func(dp Point, raw []uint16, validPixels int) {
		dumped = raw
		dumpedCount = validPixels
	}

	if _, err := s.Sample(f, []Point{p}, nil); err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if len(dumped) != 25 {
		t.Fatalf("dump got %d raw values, want 25", len(dumped))
	}
	if dumpedCount != 25 {
		t.Errorf("dump valid count = %d, want 25", dumpedCount)
	}
}
