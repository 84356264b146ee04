// Package config loads the measurement-point configuration file. The format
// is fixed by the deployed fleet: line-oriented `key=value` settings plus up
// to four `x,y,name` point lines, `#` for comments.
package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/depth-data/distance.report/internal/monitoring"
	"github.com/depth-data/distance.report/internal/sampler"
)

// Sensor geometry of the HPS3D-160.
const (
	FrameWidth  = 160
	FrameHeight = 60
)

// MaxPoints caps the number of configured sample points.
const MaxPoints = 4

// DefaultDebugFile is where raw window dumps land unless overridden.
const DefaultDebugFile = "/var/log/hps3d/debug.log"

// Config holds the loaded service configuration. Fields omitted from the
// file keep their defaults, so partial configs are safe.
type Config struct {
	Points         []sampler.Point
	MinValidPixels int
	Debug          bool
	DebugFile      string
}

// Default returns the factory configuration: four points spread across the
// frame, 25% validity threshold, debug dumps enabled.
func Default() *Config {
	return &Config{
		Points: []sampler.Point{
			{Name: "point_1", X: 40, Y: 30, HalfWidth: sampler.DefaultHalfWidth},
			{Name: "point_2", X: 120, Y: 30, HalfWidth: sampler.DefaultHalfWidth},
			{Name: "point_3", X: 40, Y: 45, HalfWidth: sampler.DefaultHalfWidth},
			{Name: "point_4", X: 120, Y: 45, HalfWidth: sampler.DefaultHalfWidth},
		},
		MinValidPixels: sampler.DefaultMinValidPixels,
		Debug:          true,
		DebugFile:      DefaultDebugFile,
	}
}

// Load reads the config file at path. A missing file is not an error; the
// defaults are returned unchanged. Point lines replace the default points.
// Points whose window would leave the sensor frame are dropped with a
// warning rather than failing the load.
func Load(path string) (*Config, error) {
	cfg := Default()

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			monitoring.Logf("config %s not found, using defaults", path)
			return cfg, nil
		}
		return nil, fmt.Errorf("open config %s: %w", path, err)
	}
	defer f.Close()

	var points []sampler.Point
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if key, value, found := strings.Cut(line, "="); found && !strings.Contains(key, ",") {
			applySetting(cfg, strings.TrimSpace(key), strings.TrimSpace(value), lineNo)
			continue
		}

		p, err := parsePointLine(line)
		if err != nil {
			monitoring.Logf("config %s:%d: %v", path, lineNo, err)
			continue
		}
		if len(points) >= MaxPoints {
			monitoring.Logf("config %s:%d: ignoring point %q, limit of %d points reached",
				path, lineNo, p.Name, MaxPoints)
			continue
		}
		points = append(points, p)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if len(points) > 0 {
		cfg.Points = points
	}

	// Drop points whose window would read outside the sensor frame. The
	// service keeps running with whatever points survive.
	valid, rejected := sampler.ValidatePoints(cfg.Points, FrameWidth, FrameHeight)
	for _, err := range rejected {
		monitoring.Logf("config %s: dropping point: %v", path, err)
	}
	cfg.Points = valid

	return cfg, nil
}

func applySetting(cfg *Config, key, value string, lineNo int) {
	switch key {
	case "debug":
		cfg.Debug = value == "1" || strings.EqualFold(value, "true")
	case "debug_file":
		if value != "" {
			cfg.DebugFile = value
		}
	case "min_valid_pixels":
		n, err := strconv.Atoi(value)
		if err != nil || n < 1 {
			monitoring.Logf("config line %d: invalid min_valid_pixels %q, keeping %d",
				lineNo, value, cfg.MinValidPixels)
			return
		}
		cfg.MinValidPixels = n
	default:
		// Unknown keys are ignored so newer configs load on older builds.
	}
}

// parsePointLine parses an `x,y,name` line.
func parsePointLine(line string) (sampler.Point, error) {
	parts := strings.SplitN(line, ",", 3)
	if len(parts) != 3 {
		return sampler.Point{}, fmt.Errorf("malformed point line %q, want x,y,name", line)
	}
	x, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return sampler.Point{}, fmt.Errorf("invalid x in %q: %w", line, err)
	}
	y, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return sampler.Point{}, fmt.Errorf("invalid y in %q: %w", line, err)
	}
	name := strings.TrimSpace(parts[2])
	if name == "" {
		return sampler.Point{}, fmt.Errorf("empty point name in %q", line)
	}
	return sampler.Point{Name: name, X: x, Y: y, HalfWidth: sampler.DefaultHalfWidth}, nil
}
