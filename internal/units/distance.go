// Package units holds the distance unit conversions used by the publishing
// layer. The sensor and the database speak millimeters; the published JSON
// additionally carries meters for the dashboard gauges.
package units

// MmToM converts millimeters to meters.
func MmToM(mm float64) float64 {
	return mm / 1000.0
}
