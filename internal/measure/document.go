package measure

import (
	"github.com/depth-data/distance.report/internal/sampler"
	"github.com/depth-data/distance.report/internal/units"
)

// Coordinates is the pixel position of a sample point in the payload.
type Coordinates struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// PointDocument is the published JSON for one sample point. Distance fields
// may be stale when Valid is false; AgeSeconds tells consumers how stale.
type PointDocument struct {
	DistanceMm    float64     `json:"distance_mm"`
	DistanceM     float64     `json:"distance_m"`
	MinDistanceMm float64     `json:"min_distance_mm"`
	MaxDistanceMm float64     `json:"max_distance_mm"`
	ValidPixels   int         `json:"valid_pixels"`
	Valid         bool        `json:"valid"`
	AgeSeconds    int64       `json:"age_seconds"`
	Coordinates   Coordinates `json:"coordinates"`
}

// Document is the full measurement payload published over MQTT and served
// from /api/measurements.
type Document struct {
	Timestamp         int64                    `json:"timestamp"`
	Active            bool                     `json:"active"`
	DeviceConnected   bool                     `json:"device_connected"`
	PowerSaveMode     bool                     `json:"power_save_mode"`
	ConnectionRetries int                      `json:"connection_retries"`
	Measurements      map[string]PointDocument `json:"measurements"`
}

// BuildDocument renders a snapshot into the published payload shape.
func BuildDocument(s Snapshot) Document {
	doc := Document{
		Timestamp:         s.Timestamp,
		Active:            s.Status.Active,
		DeviceConnected:   s.Status.DeviceConnected,
		PowerSaveMode:     s.Status.PowerSaveMode,
		ConnectionRetries: s.Status.ConnectionRetries,
		Measurements:      make(map[string]PointDocument, len(s.Results)),
	}
	for _, r := range s.Results {
		doc.Measurements[r.Name] = pointDocument(r, s.Timestamp)
	}
	return doc
}

func pointDocument(r sampler.Result, now int64) PointDocument {
	var age int64 = -1 // never updated
	if r.LastUpdate > 0 {
		age = now - r.LastUpdate
	}
	return PointDocument{
		DistanceMm:    r.AvgDistance,
		DistanceM:     units.MmToM(r.AvgDistance),
		MinDistanceMm: r.MinDistance,
		MaxDistanceMm: r.MaxDistance,
		ValidPixels:   r.ValidPixels,
		Valid:         r.Valid,
		AgeSeconds:    age,
		Coordinates:   Coordinates{X: r.X, Y: r.Y},
	}
}
