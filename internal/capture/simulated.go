package capture

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/depth-data/distance.report/internal/frame"
)

// SimulatedSource generates synthetic depth frames for dev mode: a flat
// back wall with a gentle horizontal gradient, per-pixel noise, and a
// sprinkling of sentinel pixels so the validity filtering has something to
// chew on.
type SimulatedSource struct {
	Width  int
	Height int

	// BaseDistance is the wall distance in millimeters, default 1500.
	BaseDistance float64

	// SentinelFraction is the probability that a pixel reads as a sentinel
	// code, default 0.05.
	SentinelFraction float64

	// Seed makes frames reproducible when non-zero.
	Seed int64

	mu        sync.Mutex
	rng       *rand.Rand
	connected bool
}

// NewSimulatedSource returns a simulated 160x60 source.
func NewSimulatedSource(seed int64) *SimulatedSource {
	return &SimulatedSource{
		Width:            160,
		Height:           60,
		BaseDistance:     1500,
		SentinelFraction: 0.05,
		Seed:             seed,
	}
}

func (s *SimulatedSource) Connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rng == nil {
		s.rng = rand.New(rand.NewSource(s.Seed))
	}
	s.connected = true
	return nil
}

func (s *SimulatedSource) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *SimulatedSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	return nil
}

var sentinelCodes = []frame.Code{
	frame.LowAmplitude, frame.Saturation, frame.ADCOverflow, frame.InvalidData,
}

// Capture synthesizes one full-depth frame.
func (s *SimulatedSource) Capture(ctx context.Context) (*frame.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return nil, ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f := frame.New(s.Width, s.Height)
	f.CapturedAt = time.Now()
	for y := 0; y < s.Height; y++ {
		for x := 0; x < s.Width; x++ {
			if s.rng.Float64() < s.SentinelFraction {
				f.Set(x, y, uint16(sentinelCodes[s.rng.Intn(len(sentinelCodes))]))
				continue
			}
			// Wall with a mild slant plus +-15mm noise.
			d := s.BaseDistance + 2*float64(x) + 15*s.rng.NormFloat64()
			d = math.Max(1, math.Min(d, float64(frame.MaxDistance-1)))
			f.Set(x, y, uint16(d))
		}
	}
	return f, nil
}
