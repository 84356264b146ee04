package capture

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/depth-data/distance.report/internal/frame"
)

// fixtureFrame is the on-disk shape of one recorded frame: one JSON object
// per line. cmd/framegen writes these.
type fixtureFrame struct {
	Width     int      `json:"width"`
	Height    int      `json:"height"`
	Distances []uint16 `json:"distances"`
}

// ReplaySource serves frames recorded in a JSON-lines fixtures file,
// looping when it reaches the end. It backs the -fixtures dev mode.
type ReplaySource struct {
	mu        sync.Mutex
	frames    []*frame.Frame
	next      int
	connected bool
}

// LoadReplaySource parses the fixtures file at path.
func LoadReplaySource(path string) (*ReplaySource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open fixtures %s: %w", path, err)
	}
	defer f.Close()

	var frames []*frame.Frame
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 1<<20), 1<<24)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ff fixtureFrame
		if err := json.Unmarshal(line, &ff); err != nil {
			return nil, fmt.Errorf("fixtures %s:%d: %w", path, lineNo, err)
		}
		if len(ff.Distances) != ff.Width*ff.Height {
			return nil, fmt.Errorf("fixtures %s:%d: %d distances for %dx%d frame",
				path, lineNo, len(ff.Distances), ff.Width, ff.Height)
		}
		frames = append(frames, &frame.Frame{
			Width:     ff.Width,
			Height:    ff.Height,
			Event:     frame.EventFullDepth,
			Distances: ff.Distances,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read fixtures %s: %w", path, err)
	}
	if len(frames) == 0 {
		return nil, fmt.Errorf("fixtures %s: no frames", path)
	}
	return &ReplaySource{frames: frames}, nil
}

func (r *ReplaySource) Connect() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connected = true
	return nil
}

func (r *ReplaySource) Connected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connected
}

func (r *ReplaySource) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connected = false
	return nil
}

// Capture returns the next recorded frame, restamped to the current time.
func (r *ReplaySource) Capture(ctx context.Context) (*frame.Frame, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.connected {
		return nil, ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	src := r.frames[r.next]
	r.next = (r.next + 1) % len(r.frames)

	out := frame.New(src.Width, src.Height)
	out.CapturedAt = time.Now()
	copy(out.Distances, src.Distances)
	return out, nil
}

// WriteFixture appends one frame to w in the fixtures format.
func WriteFixture(w *bufio.Writer, f *frame.Frame) error {
	line, err := json.Marshal(fixtureFrame{
		Width:     f.Width,
		Height:    f.Height,
		Distances: f.Distances,
	})
	if err != nil {
		return err
	}
	if _, err := w.Write(line); err != nil {
		return err
	}
	return w.WriteByte('\n')
}
