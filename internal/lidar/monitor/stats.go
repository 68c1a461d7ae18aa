package monitor

import (
	"math"
	"slices"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/ldscan/internal/lidar"
)

// ScanSummary describes the distance and intensity distribution of one
// scan. Points with a zero distance are no-returns and are excluded from
// the distance statistics.
type ScanSummary struct {
	Points        int     `json:"points"`
	ValidPoints   int     `json:"valid_points"`
	DistanceMean  float64 `json:"distance_mean_mm"`
	DistanceStd   float64 `json:"distance_stddev_mm"`
	DistanceMin   float64 `json:"distance_min_mm"`
	DistanceMax   float64 `json:"distance_max_mm"`
	DistanceP05   float64 `json:"distance_p05_mm"`
	DistanceP50   float64 `json:"distance_p50_mm"`
	DistanceP95   float64 `json:"distance_p95_mm"`
	IntensityMean float64 `json:"intensity_mean"`
	IntensityStd  float64 `json:"intensity_stddev"`
	// AngleSpanDeg is the angular extent covered by the points, in degrees.
	AngleSpanDeg float64 `json:"angle_span_deg"`
}

// Summarize computes a ScanSummary over points.
func Summarize(points []lidar.Point) ScanSummary {
	s := ScanSummary{Points: len(points)}
	if len(points) == 0 {
		return s
	}

	distances := make([]float64, 0, len(points))
	intensities := make([]float64, 0, len(points))
	minAngle, maxAngle := math.Inf(1), math.Inf(-1)
	for _, p := range points {
		intensities = append(intensities, float64(p.Intensity))
		minAngle = math.Min(minAngle, p.Angle)
		maxAngle = math.Max(maxAngle, p.Angle)
		if p.Distance > 0 {
			distances = append(distances, float64(p.Distance))
		}
	}

	// the unbiased estimators are undefined for a single sample, and NaN
	// does not encode as JSON
	if len(intensities) > 1 {
		s.IntensityMean, s.IntensityStd = stat.MeanStdDev(intensities, nil)
	} else {
		s.IntensityMean = intensities[0]
	}
	s.AngleSpanDeg = (maxAngle - minAngle) * 180 / math.Pi
	s.ValidPoints = len(distances)
	if len(distances) == 0 {
		return s
	}

	slices.Sort(distances)
	s.DistanceMin = distances[0]
	s.DistanceMax = distances[len(distances)-1]
	s.DistanceMean = stat.Mean(distances, nil)
	if len(distances) > 1 {
		s.DistanceStd = stat.StdDev(distances, nil)
	}
	s.DistanceP05 = stat.Quantile(0.05, stat.Empirical, distances, nil)
	s.DistanceP50 = stat.Quantile(0.50, stat.Empirical, distances, nil)
	s.DistanceP95 = stat.Quantile(0.95, stat.Empirical, distances, nil)
	return s
}
