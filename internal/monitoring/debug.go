package monitoring

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// DebugLog appends timestamped diagnostic records to a file. It backs the
// raw-window dumps the field technicians use to diagnose misaligned sample
// points; when disabled every call is a cheap no-op.
type DebugLog struct {
	mu      sync.Mutex
	path    string
	enabled bool
	f       *os.File
}

// NewDebugLog returns a DebugLog writing to path. The file is opened lazily
// on first write so a disabled log never touches the filesystem.
func NewDebugLog(path string, enabled bool) *DebugLog {
	return &DebugLog{path: path, enabled: enabled}
}

// Enabled reports whether the log will write anything.
func (d *DebugLog) Enabled() bool {
	if d == nil {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.enabled
}

// Printf appends one timestamped line. Open failures are reported once
// through Logf and disable the log.
func (d *DebugLog) Printf(format string, v ...interface{}) {
	if d == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.enabled {
		return
	}
	if d.f == nil {
		if err := d.open(); err != nil {
			Logf("debug log disabled: %v", err)
			d.enabled = false
			return
		}
	}
	ts := time.Now().Format("2006-01-02 15:04:05")
	fmt.Fprintf(d.f, "[%s] %s\n", ts, fmt.Sprintf(format, v...))
}

func (d *DebugLog) open() error {
	if err := os.MkdirAll(filepath.Dir(d.path), 0o755); err != nil {
		return fmt.Errorf("create debug log directory: %w", err)
	}
	f, err := os.OpenFile(d.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open debug log %s: %w", d.path, err)
	}
	d.f = f
	return nil
}

// DumpWindow writes the raw values of one sampled window as a square grid.
// side is the window edge length; raw is row-major.
func (d *DebugLog) DumpWindow(name string, raw []uint16, side, validPixels int) {
	if !d.Enabled() || side <= 0 {
		return
	}
	var b strings.Builder
	fmt.Fprintf(&b, "point %s raw window (%d/%d valid):", name, validPixels, len(raw))
	for i, v := range raw {
		if i%side == 0 {
			b.WriteString("\n ")
		}
		fmt.Fprintf(&b, " %5d", v)
	}
	d.Printf("%s", b.String())
}

// Close flushes and closes the underlying file.
func (d *DebugLog) Close() error {
	if d == nil {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.f == nil {
		return nil
	}
	err := d.f.Close()
	d.f = nil
	return err
}
