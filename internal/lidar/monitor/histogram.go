package monitor

import (
	"fmt"
	"image/color"
	"io"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/ldscan/internal/lidar"
)

// DefaultHistogramBins is used when a caller asks for zero bins.
const DefaultHistogramBins = 40

// Histogram image size.
const (
	histogramWidth  = 8 * vg.Inch
	histogramHeight = 4 * vg.Inch
)

// ErrNoReturns is returned when a scan has no non-zero distances to plot.
var ErrNoReturns = fmt.Errorf("scan has no valid distance returns")

// DistanceHistogram builds a histogram plot of the non-zero distances in
// points.
func DistanceHistogram(points []lidar.Point, bins int, title string) (*plot.Plot, error) {
	if bins <= 0 {
		bins = DefaultHistogramBins
	}
	values := make(plotter.Values, 0, len(points))
	for _, p := range points {
		if p.Distance > 0 {
			values = append(values, float64(p.Distance))
		}
	}
	if len(values) == 0 {
		return nil, ErrNoReturns
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Distance (mm)"
	p.Y.Label.Text = "Points"
	p.Add(plotter.NewGrid())

	h, err := plotter.NewHist(values, bins)
	if err != nil {
		return nil, fmt.Errorf("failed to build histogram: %w", err)
	}
	h.FillColor = color.RGBA{R: 230, G: 80, B: 20, A: 255}
	h.LineStyle.Width = vg.Points(0.5)
	p.Add(h)
	return p, nil
}

// WriteDistanceHistogramPNG renders DistanceHistogram as a PNG to w.
func WriteDistanceHistogramPNG(w io.Writer, points []lidar.Point, bins int, title string) error {
	p, err := DistanceHistogram(points, bins, title)
	if err != nil {
		return err
	}
	wt, err := p.WriterTo(histogramWidth, histogramHeight, "png")
	if err != nil {
		return fmt.Errorf("failed to create png writer: %w", err)
	}
	if _, err := wt.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write png: %w", err)
	}
	return nil
}

// SaveDistanceHistogram writes the histogram to path; the format follows
// the file extension (png, svg, pdf).
func SaveDistanceHistogram(path string, points []lidar.Point, bins int, title string) error {
	p, err := DistanceHistogram(points, bins, title)
	if err != nil {
		return err
	}
	if err := p.Save(histogramWidth, histogramHeight, path); err != nil {
		return fmt.Errorf("failed to save histogram: %w", err)
	}
	return nil
}
