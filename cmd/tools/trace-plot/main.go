// Command trace-plot renders pose-age plots from a diagnostics database.
// It reads the frame records of one session and writes a PNG of pose age
// over frame index, with corrected, provisional and fallback frames
// distinguishable, plus a percentile summary on stdout.
package main

import (
	"flag"
	"fmt"
	"image/color"
	"log"
	"sort"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/reproject/internal/posedb"
	"github.com/banshee-data/reproject/internal/render"
)

var (
	dbFile    = flag.String("db", "pose_diag.db", "diagnostics sqlite path")
	sessionID = flag.String("session", "", "session to plot (empty uses the latest)")
	outFile   = flag.String("out", "pose_age.png", "output PNG path")
	limit     = flag.Int("limit", 10000, "max frame records to read")
)

func main() {
	flag.Parse()

	store, err := posedb.Open(*dbFile)
	if err != nil {
		log.Fatalf("open diagnostics db: %v", err)
	}
	defer store.Close()

	id := *sessionID
	if id == "" {
		id, err = store.LatestSessionID()
		if err != nil {
			log.Fatalf("no session to plot: %v", err)
		}
	}

	rows, err := store.FrameRecords(id, *limit)
	if err != nil {
		log.Fatalf("read frame records: %v", err)
	}
	if len(rows) == 0 {
		log.Fatalf("session %s has no frame records", id)
	}

	if err := plotPoseAges(id, rows, *outFile); err != nil {
		log.Fatalf("plot: %v", err)
	}

	printSummary(id, rows)
	log.Printf("wrote %s (%d frames)", *outFile, len(rows))
}

// plotPoseAges writes the pose-age series as one line per outcome class.
func plotPoseAges(sessionID string, rows []posedb.FrameRow, outFile string) error {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("Pose age at present, session %s", sessionID)
	p.X.Label.Text = "frame index"
	p.Y.Label.Text = "pose age (ms)"

	series := map[string]plotter.XYs{}
	for _, r := range rows {
		ageMs := float64(r.PoseAgeNanos) * 1e-6
		series[r.Outcome] = append(series[r.Outcome], plotter.XY{X: float64(r.FrameIndex), Y: ageMs})
	}

	colors := map[string]color.Color{
		string(render.OutcomeCorrected):   color.RGBA{G: 160, A: 255},
		string(render.OutcomeProvisional): color.RGBA{B: 200, A: 255},
		string(render.OutcomeFallback):    color.RGBA{R: 200, A: 255},
	}

	for _, outcome := range []string{
		string(render.OutcomeCorrected),
		string(render.OutcomeProvisional),
		string(render.OutcomeFallback),
	} {
		pts := series[outcome]
		if len(pts) == 0 {
			continue
		}
		sc, err := plotter.NewScatter(pts)
		if err != nil {
			return fmt.Errorf("build %s series: %w", outcome, err)
		}
		sc.GlyphStyle.Radius = vg.Points(1.5)
		if c, ok := colors[outcome]; ok {
			sc.GlyphStyle.Color = c
		}
		p.Add(sc)
		p.Legend.Add(outcome, sc)
	}
	p.Legend.Top = true

	if err := p.Save(14*vg.Inch, 6*vg.Inch, outFile); err != nil {
		return fmt.Errorf("save plot: %w", err)
	}
	return nil
}

func printSummary(sessionID string, rows []posedb.FrameRow) {
	var ages []float64
	counts := map[string]int{}
	for _, r := range rows {
		counts[r.Outcome]++
		if r.Outcome == string(render.OutcomeCorrected) {
			ages = append(ages, float64(r.PoseAgeNanos))
		}
	}

	fmt.Printf("session %s: %d frames (%d corrected, %d provisional, %d fallback)\n",
		sessionID, len(rows),
		counts[string(render.OutcomeCorrected)],
		counts[string(render.OutcomeProvisional)],
		counts[string(render.OutcomeFallback)])

	if len(ages) == 0 {
		fmt.Println("no corrected frames, skipping percentiles")
		return
	}
	sort.Float64s(ages)
	for _, q := range []float64{0.50, 0.95, 0.99} {
		fmt.Printf("  p%02.0f pose age: %.2f ms\n", q*100, stat.Quantile(q, stat.Empirical, ages, nil)*1e-6)
	}
}
