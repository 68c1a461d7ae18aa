package monitor

import (
	"bytes"
	"fmt"
	"math"
	"net/http"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/ldscan/internal/lidar"
)

const echartsAssetsPrefix = "https://go-echarts.github.io/go-echarts-assets/assets/"

// DefaultPolarRangeMM is the radius shown by the polar plot unless the
// request overrides it.
const DefaultPolarRangeMM = 1500.0

// ProjectXY converts a polar point to Cartesian millimetres, x towards 0°
// and y towards 90°.
func ProjectXY(p lidar.Point) (x, y float64) {
	d := float64(p.Distance)
	return d * math.Cos(p.Angle), d * math.Sin(p.Angle)
}

// handleScanPolar renders the latest scan as an XY scatter coloured by
// intensity. Debug-only.
// Query params:
//   - max_range (optional; mm, default 1500, or "auto" to fit the scan)
func (ws *WebServer) handleScanPolar(w http.ResponseWriter, r *http.Request) {
	f := ws.scans.Latest()
	if f == nil {
		ws.writeJSONError(w, http.StatusServiceUnavailable, "no scan available yet")
		return
	}

	maxRange := DefaultPolarRangeMM
	auto := false
	switch mr := r.URL.Query().Get("max_range"); mr {
	case "":
	case "auto":
		auto = true
	default:
		v, err := strconv.ParseFloat(mr, 64)
		if err != nil || v <= 0 {
			ws.writeJSONError(w, http.StatusBadRequest, "max_range must be a positive number or 'auto'")
			return
		}
		maxRange = v
	}

	points := f.Scan.Points()
	data := make([]opts.ScatterData, 0, len(points))
	maxAbs := 0.0
	for _, p := range points {
		if p.Distance == 0 {
			continue
		}
		x, y := ProjectXY(p)
		maxAbs = math.Max(maxAbs, math.Max(math.Abs(x), math.Abs(y)))
		data = append(data, opts.ScatterData{Value: []interface{}{x, y, int(p.Intensity)}})
	}
	if auto {
		maxRange = maxAbs * 1.05
		if maxRange == 0 {
			maxRange = DefaultPolarRangeMM
		}
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "LiDAR Scan (Polar->XY)", Theme: "dark", Width: "800px", Height: "800px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Latest scan", Subtitle: fmt.Sprintf("seq=%d points=%d source=%s", f.Seq, len(data), ws.scans.Stats().Source)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Min: -maxRange, Max: maxRange, Name: "X (mm)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: -maxRange, Max: maxRange, Name: "Y (mm)", NameLocation: "middle", NameGap: 30}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        0,
			Max:        255,
			Dimension:  "2",
			InRange:    &opts.VisualMapInRange{Color: hotPalette(10)},
		}),
	)
	scatter.AddSeries("scan", data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 2}))

	var buf bytes.Buffer
	if err := scatter.Render(&buf); err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render chart: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// handleScanHistogram renders a PNG histogram of the latest scan distances.
// Query params:
//   - bins (optional; default 40, max 500)
func (ws *WebServer) handleScanHistogram(w http.ResponseWriter, r *http.Request) {
	f := ws.scans.Latest()
	if f == nil {
		ws.writeJSONError(w, http.StatusServiceUnavailable, "no scan available yet")
		return
	}

	bins := DefaultHistogramBins
	if b := r.URL.Query().Get("bins"); b != "" {
		v, err := strconv.Atoi(b)
		if err != nil || v <= 0 || v > 500 {
			ws.writeJSONError(w, http.StatusBadRequest, "bins must be between 1 and 500")
			return
		}
		bins = v
	}

	var buf bytes.Buffer
	if err := WriteDistanceHistogramPNG(&buf, f.Scan.Points(), bins, fmt.Sprintf("Scan %d distances", f.Seq)); err != nil {
		status := http.StatusInternalServerError
		if err == ErrNoReturns {
			status = http.StatusNotFound
		}
		ws.writeJSONError(w, status, err.Error())
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(buf.Bytes())
}
