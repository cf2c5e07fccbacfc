package monitor

import (
	"bytes"
	"fmt"
	"net/http"
	"sort"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/gonum/stat"
)

// latencySummary holds pose-age percentiles over the corrected frames of a
// session, in milliseconds.
type latencySummary struct {
	Count int     `json:"count"`
	P50Ms float64 `json:"p50_ms"`
	P95Ms float64 `json:"p95_ms"`
	P99Ms float64 `json:"p99_ms"`
}

// summarizeAges computes percentiles from pose ages in nanoseconds. The
// input slice is sorted in place.
func summarizeAges(ages []float64) latencySummary {
	sort.Float64s(ages)
	const msPerNano = 1e-6
	return latencySummary{
		Count: len(ages),
		P50Ms: stat.Quantile(0.50, stat.Empirical, ages, nil) * msPerNano,
		P95Ms: stat.Quantile(0.95, stat.Empirical, ages, nil) * msPerNano,
		P99Ms: stat.Quantile(0.99, stat.Empirical, ages, nil) * msPerNano,
	}
}

// handleLatencyChart renders a quick line plot (HTML) of per-frame pose
// age using go-echarts. This is a debugging-only endpoint (no auth) for
// visual inspection without external tooling.
// Query params:
//   - max_points (optional; default 2000) to reduce payload size
func (ws *WebServer) handleLatencyChart(w http.ResponseWriter, r *http.Request) {
	if ws.db == nil {
		ws.writeJSONError(w, http.StatusNotFound, "no diagnostics database configured")
		return
	}

	maxPoints := 2000
	if mp := r.URL.Query().Get("max_points"); mp != "" {
		if v, err := strconv.Atoi(mp); err == nil && v > 100 && v <= 50000 {
			maxPoints = v
		}
	}

	ages, err := ws.db.PoseAges(ws.sessionID)
	if err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("query pose ages: %v", err))
		return
	}
	if len(ages) == 0 {
		ws.writeJSONError(w, http.StatusNotFound, "no corrected frames recorded yet")
		return
	}

	// Downsample by stride to stay within maxPoints.
	stride := 1
	if len(ages) > maxPoints {
		stride = (len(ages) + maxPoints - 1) / maxPoints
	}

	x := make([]string, 0, len(ages)/stride+1)
	y := make([]opts.LineData, 0, len(ages)/stride+1)
	for i := 0; i < len(ages); i += stride {
		x = append(x, strconv.Itoa(i))
		y = append(y, opts.LineData{Value: ages[i] * 1e-6})
	}

	// summarizeAges sorts; keep the plot series built first.
	summary := summarizeAges(ages)

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Pose Age", Theme: "dark", Width: "100%", Height: "720px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Pose Age at Present (ms)",
			Subtitle: fmt.Sprintf("session=%s frames=%d p50=%.1fms p95=%.1fms p99=%.1fms", ws.sessionID, summary.Count, summary.P50Ms, summary.P95Ms, summary.P99Ms),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Name: "age (ms)"}),
	)
	line.SetXAxis(x).AddSeries("pose age", y)

	page := components.NewPage()
	page.AddCharts(line)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("render error: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
