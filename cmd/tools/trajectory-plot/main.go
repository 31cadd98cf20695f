// Command trajectory-plot renders a recorded run from a trajectory
// database as a top-down PNG and, optionally, an interactive HTML chart.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"sort"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/vio-frontend/internal/vio/storage/sqlite"
)

func main() {
	dbPath := flag.String("db", "trajectory.db", "Path to the trajectory database")
	runID := flag.String("run", "", "Run id to plot (default: latest run)")
	pngPath := flag.String("png", "trajectory.png", "Output PNG path (empty to skip)")
	htmlPath := flag.String("html", "", "Output HTML chart path (empty to skip)")
	flag.Parse()

	store, err := sqlite.Open(*dbPath)
	if err != nil {
		log.Fatalf("failed to open %s: %v", *dbPath, err)
	}
	defer store.Close()

	ctx := context.Background()
	id := *runID
	if id == "" {
		run, err := store.LatestRun(ctx)
		if err != nil {
			log.Fatalf("no run to plot: %v", err)
		}
		id = run.ID
	}

	series := map[string][]sqlite.PoseRow{}
	for _, source := range []string{sqlite.SourceOdometry, sqlite.SourceFastPose} {
		rows, err := store.LoadTrajectory(ctx, id, source)
		if err != nil {
			log.Fatalf("failed to load %s poses: %v", source, err)
		}
		if len(rows) > 0 {
			series[source] = rows
		}
	}
	if len(series) == 0 {
		log.Fatalf("run %s has no poses", id)
	}

	if *pngPath != "" {
		p, err := buildPlot(id, series)
		if err != nil {
			log.Fatalf("failed to build plot: %v", err)
		}
		if err := p.Save(8*vg.Inch, 8*vg.Inch, *pngPath); err != nil {
			log.Fatalf("failed to save %s: %v", *pngPath, err)
		}
		log.Printf("wrote %s", *pngPath)
	}

	if *htmlPath != "" {
		f, err := os.Create(*htmlPath)
		if err != nil {
			log.Fatalf("failed to create %s: %v", *htmlPath, err)
		}
		if err := sqlite.RenderTrajectoryChart(f, "run "+id, series); err != nil {
			f.Close()
			log.Fatalf("failed to render chart: %v", err)
		}
		if err := f.Close(); err != nil {
			log.Fatalf("failed to write %s: %v", *htmlPath, err)
		}
		log.Printf("wrote %s", *htmlPath)
	}
}

// buildPlot draws one line per pose source in the world x/y plane.
func buildPlot(runID string, series map[string][]sqlite.PoseRow) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("Trajectory %s", runID)
	p.X.Label.Text = "x (m)"
	p.Y.Label.Text = "y (m)"
	p.Add(plotter.NewGrid())

	sources := make([]string, 0, len(series))
	for s := range series {
		sources = append(sources, s)
	}
	sort.Strings(sources)

	for i, source := range sources {
		rows := series[source]
		pts := make(plotter.XYs, len(rows))
		for j, r := range rows {
			pts[j] = plotter.XY{X: r.Position[0], Y: r.Position[1]}
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", source, err)
		}
		line.Color = plotutil.Color(i)
		line.Width = vg.Points(1)
		p.Add(line)
		p.Legend.Add(source, line)
	}
	p.Legend.Top = true
	p.Legend.Left = false
	return p, nil
}
