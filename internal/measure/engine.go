// Package measure runs the measurement loop: it owns the frame source and
// the sampler, keeps the latest results under a single lock, and broadcasts
// a snapshot to subscribers after every pass.
package measure

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/depth-data/distance.report/internal/capture"
	"github.com/depth-data/distance.report/internal/frame"
	"github.com/depth-data/distance.report/internal/monitoring"
	"github.com/depth-data/distance.report/internal/sampler"
	"github.com/depth-data/distance.report/internal/timeutil"
)

const (
	// DefaultInterval paces successful measurement passes.
	DefaultInterval = 1500 * time.Millisecond

	// captureAttempts retries a failing capture before the pass is abandoned.
	captureAttempts = 3

	// Reconnect backoff bounds: 500ms doubling up to 16s.
	backoffBase = 500 * time.Millisecond
	backoffMax  = 16 * time.Second
)

// Status is the control-plane state of the engine.
type Status struct {
	Active            bool `json:"active"`
	DeviceConnected   bool `json:"device_connected"`
	PowerSaveMode     bool `json:"power_save_mode"`
	ConnectionRetries int  `json:"connection_retries"`
}

// Snapshot is one pass worth of results plus engine state, as handed to
// subscribers (MQTT publisher, history recorder, HTTP handlers).
type Snapshot struct {
	Timestamp int64
	Status    Status
	Results   []sampler.Result
}

// Engine drives the capture/sample loop.
type Engine struct {
	Interval time.Duration

	source  capture.FrameSource
	sampler *sampler.Sampler
	points  []sampler.Point
	clock   timeutil.Clock

	// mu guards results and lastFrame together; one lock per pass keeps
	// readers from seeing a torn multi-field update.
	mu        sync.Mutex
	results   []sampler.Result
	lastFrame *frame.Frame

	active         atomic.Bool
	powerSave      atomic.Bool
	cloudRequested atomic.Bool
	retries        atomic.Int32

	subMu     sync.Mutex
	subs      map[string]chan Snapshot
	cloudSubs map[string]chan *frame.Cloud
}

// New wires an engine. The sampler's clock is reused for pass pacing so
// tests can drive the whole loop from one mock clock.
func New(source capture.FrameSource, s *sampler.Sampler, points []sampler.Point) *Engine {
	clock := s.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Engine{
		Interval:  DefaultInterval,
		source:    source,
		sampler:   s,
		points:    points,
		clock:     clock,
		subs:      make(map[string]chan Snapshot),
		cloudSubs: make(map[string]chan *frame.Cloud),
	}
}

// Start switches measurement on. The run loop wakes the sensor on its next
// iteration.
func (e *Engine) Start() {
	if e.active.CompareAndSwap(false, true) {
		monitoring.Logf("measurement activated")
	}
}

// Stop switches measurement off; the run loop drops into power-save mode.
func (e *Engine) Stop() {
	if e.active.CompareAndSwap(true, false) {
		monitoring.Logf("measurement deactivated")
	}
}

// Active reports whether measurement is switched on.
func (e *Engine) Active() bool { return e.active.Load() }

// RequestPointcloud asks the run loop to capture one frame and broadcast
// its point cloud to cloud subscribers.
func (e *Engine) RequestPointcloud() {
	e.cloudRequested.Store(true)
}

// Status returns the current control-plane state.
func (e *Engine) Status() Status {
	return Status{
		Active:            e.active.Load(),
		DeviceConnected:   e.source.Connected(),
		PowerSaveMode:     e.powerSave.Load(),
		ConnectionRetries: int(e.retries.Load()),
	}
}

// Results returns a copy of the latest results.
func (e *Engine) Results() []sampler.Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]sampler.Result, len(e.results))
	copy(out, e.results)
	return out
}

// Snapshot assembles the current state and results.
func (e *Engine) Snapshot() Snapshot {
	return Snapshot{
		Timestamp: e.clock.Now().Unix(),
		Status:    e.Status(),
		Results:   e.Results(),
	}
}

// Subscribe registers a snapshot channel. Slow subscribers lose snapshots
// rather than stalling the measurement loop.
func (e *Engine) Subscribe() (string, <-chan Snapshot) {
	id := uuid.NewString()
	ch := make(chan Snapshot, 4)
	e.subMu.Lock()
	defer e.subMu.Unlock()
	e.subs[id] = ch
	return id, ch
}

// Unsubscribe removes and closes a snapshot channel.
func (e *Engine) Unsubscribe(id string) {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	if ch, ok := e.subs[id]; ok {
		close(ch)
		delete(e.subs, id)
	}
}

// SubscribeClouds registers a point-cloud channel.
func (e *Engine) SubscribeClouds() (string, <-chan *frame.Cloud) {
	id := uuid.NewString()
	ch := make(chan *frame.Cloud, 1)
	e.subMu.Lock()
	defer e.subMu.Unlock()
	e.cloudSubs[id] = ch
	return id, ch
}

// UnsubscribeClouds removes and closes a point-cloud channel.
func (e *Engine) UnsubscribeClouds(id string) {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	if ch, ok := e.cloudSubs[id]; ok {
		close(ch)
		delete(e.cloudSubs, id)
	}
}

func (e *Engine) broadcast(s Snapshot) {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	for _, ch := range e.subs {
		select {
		case ch <- s:
		default:
		}
	}
}

func (e *Engine) broadcastCloud(c *frame.Cloud) {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	for _, ch := range e.cloudSubs {
		select {
		case ch <- c:
		default:
		}
	}
}

// Run executes the measurement loop until ctx is cancelled. It never
// returns an error from individual passes; capture failures feed the
// reconnect path instead.
func (e *Engine) Run(ctx context.Context) error {
	monitoring.Logf("measurement loop started (%d points, interval %s)", len(e.points), e.Interval)
	defer func() {
		if err := e.source.Close(); err != nil {
			monitoring.Logf("closing frame source: %v", err)
		}
		monitoring.Logf("measurement loop stopped")
	}()

	idleCycles := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if !e.active.Load() {
			e.enterPowerSave()
			if e.cloudRequested.Swap(false) {
				monitoring.Logf("pointcloud request ignored: measurement inactive")
			}
			idleCycles++
			if !e.wait(ctx, idleDelay(idleCycles)) {
				return ctx.Err()
			}
			continue
		}
		idleCycles = 0
		e.exitPowerSave()

		if !e.source.Connected() {
			if err := e.source.Connect(); err != nil {
				retries := e.retries.Add(1)
				delay := reconnectBackoff(int(retries) - 1)
				monitoring.Logf("sensor connect failed (attempt %d): %v; retrying in %s", retries, err, delay)
				if !e.wait(ctx, delay) {
					return ctx.Err()
				}
				continue
			}
			e.retries.Store(0)
			monitoring.Logf("sensor connected")
		}

		if err := e.pass(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			monitoring.Logf("measurement pass failed: %v", err)
			// Force a reconnect attempt on the next iteration. The pause
			// keeps a sensor that connects but never delivers frames from
			// turning the loop into a busy spin.
			if err := e.source.Close(); err != nil {
				monitoring.Logf("closing frame source after failed pass: %v", err)
			}
			if !e.wait(ctx, backoffBase) {
				return ctx.Err()
			}
			continue
		}

		if e.cloudRequested.Swap(false) {
			e.publishCloud()
		}

		if !e.wait(ctx, e.Interval) {
			return ctx.Err()
		}
	}
}

// pass captures one frame and samples every point. Capture is retried a few
// times before the pass is abandoned; a pass that fails leaves the previous
// results in place.
func (e *Engine) pass(ctx context.Context) error {
	var f *frame.Frame
	var err error
	for attempt := 1; attempt <= captureAttempts; attempt++ {
		f, err = e.source.Capture(ctx)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		monitoring.Logf("capture failed (attempt %d/%d): %v", attempt, captureAttempts, err)
	}
	if err != nil {
		return fmt.Errorf("capture: %w", err)
	}
	if f.Event != frame.EventFullDepth {
		// Only full-depth frames carry the complete grid; other events are
		// skipped without touching the results.
		return nil
	}

	e.mu.Lock()
	results, err := e.sampler.Sample(f, e.points, e.results)
	if err != nil {
		e.mu.Unlock()
		return fmt.Errorf("sample: %w", err)
	}
	e.results = results
	e.lastFrame = f
	e.mu.Unlock()

	e.broadcast(e.Snapshot())
	return nil
}

// PointCloud extracts the cloud of the most recent frame. Returns
// sampler.ErrNoFrameData when no frame has been captured yet.
func (e *Engine) PointCloud() (*frame.Cloud, error) {
	e.mu.Lock()
	f := e.lastFrame
	e.mu.Unlock()
	if f.Empty() {
		return nil, sampler.ErrNoFrameData
	}
	return f.PointCloud(), nil
}

// publishCloud broadcasts the cloud of the pass that just completed.
func (e *Engine) publishCloud() {
	cloud, err := e.PointCloud()
	if err != nil {
		monitoring.Logf("pointcloud request failed: %v", err)
		return
	}
	monitoring.Logf("broadcasting pointcloud with %d valid points", len(cloud.Data))
	e.broadcastCloud(cloud)
}

func (e *Engine) enterPowerSave() {
	if e.powerSave.Load() {
		return
	}
	if e.source.Connected() {
		if err := e.source.Close(); err != nil {
			monitoring.Logf("power-save: closing frame source: %v", err)
		}
	}
	e.powerSave.Store(true)
	monitoring.Logf("power-save mode active")
}

func (e *Engine) exitPowerSave() {
	if e.powerSave.Swap(false) {
		monitoring.Logf("power-save mode deactivated")
	}
}

// wait blocks for d or until ctx is done; reports false on cancellation.
func (e *Engine) wait(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-e.clock.After(d):
		return true
	}
}

// idleDelay lengthens the poll interval the longer measurement stays off:
// 100ms for the first ~5s, then 500ms, then 1s.
func idleDelay(cycles int) time.Duration {
	switch {
	case cycles < 50:
		return 100 * time.Millisecond
	case cycles < 300:
		return 500 * time.Millisecond
	default:
		return time.Second
	}
}

// reconnectBackoff returns 500ms * 2^retries capped at 16s.
func reconnectBackoff(retries int) time.Duration {
	if retries < 0 {
		retries = 0
	}
	d := backoffBase << uint(retries)
	if d > backoffMax || d <= 0 {
		return backoffMax
	}
	return d
}

// RunOnce connects, captures a single frame, samples it and returns the
// results. Used by the -once flag for smoke-testing an installation.
func (e *Engine) RunOnce(ctx context.Context) ([]sampler.Result, error) {
	if !e.source.Connected() {
		if err := e.source.Connect(); err != nil {
			return nil, fmt.Errorf("connect: %w", err)
		}
		defer e.source.Close()
	}
	f, err := e.source.Capture(ctx)
	if err != nil {
		return nil, fmt.Errorf("capture: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	results, err := e.sampler.Sample(f, e.points, e.results)
	if err != nil {
		return nil, err
	}
	e.results = results
	e.lastFrame = f
	out := make([]sampler.Result, len(results))
	copy(out, results)
	return out, nil
}
