// Package capture is the frame-acquisition seam of the service. The
// production sensor sits behind a closed vendor SDK; everything downstream
// of this package only sees the FrameSource interface, so the daemon runs
// unchanged against simulated scenes, recorded fixtures, or a future
// SDK-backed source.
package capture

import (
	"context"
	"errors"

	"github.com/depth-data/distance.report/internal/frame"
)

// ErrNotConnected is returned by Capture when the source has not been
// connected or has lost its device.
var ErrNotConnected = errors.New("capture: source not connected")

// FrameSource acquires one depth frame per Capture call.
type FrameSource interface {
	// Connect establishes the device session. Safe to call again after a
	// Close; the engine uses this for its reconnect path.
	Connect() error

	// Capture blocks until one frame is available or ctx is done. The
	// returned frame is owned by the caller.
	Capture(ctx context.Context) (*frame.Frame, error)

	// Connected reports whether the source currently holds a device session.
	Connected() bool

	// Close releases the device session. The engine closes the source when
	// measurement is switched off to mirror the sensor's power-save mode.
	Close() error
}
