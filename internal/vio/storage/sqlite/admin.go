package sqlite

import (
	"bytes"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"sort"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/tailscale/tailsql/server/tailsql"
	"tailscale.com/tsweb"
)

// AttachAdminRoutes mounts live SQL and a trajectory chart under /debug/.
func (s *TrajectoryStore) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		log.Fatalf("failed to create tailsql server: %v", err)
	}
	tsql.SetDB("sqlite://trajectory.db", s.db, &tailsql.DBOptions{
		Label: "Trajectory DB",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.HandleFunc("trajectory", "Top-down plot of the latest run (?run=<id> for another)", s.handleTrajectoryChart)
}

func (s *TrajectoryStore) handleTrajectoryChart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	runID := r.URL.Query().Get("run")
	if runID == "" {
		run, err := s.LatestRun(ctx)
		if err != nil {
			http.Error(w, "no runs recorded", http.StatusNotFound)
			return
		}
		runID = run.ID
	}

	series := make(map[string][]PoseRow, 2)
	for _, src := range []string{SourceOdometry, SourceFastPose} {
		rows, err := s.LoadTrajectory(ctx, runID, src)
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		series[src] = rows
	}

	var buf bytes.Buffer
	if err := RenderTrajectoryChart(&buf, "run "+runID, series); err != nil {
		http.Error(w, fmt.Sprintf("failed to render chart: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// RenderTrajectoryChart writes an HTML scatter of the x/y positions of
// each named series.
func RenderTrajectoryChart(w io.Writer, subtitle string, series map[string][]PoseRow) error {
	names := make([]string, 0, len(series))
	extent := 1.0
	total := 0
	for name, rows := range series {
		names = append(names, name)
		for _, p := range rows {
			extent = math.Max(extent, math.Max(math.Abs(p.Position[0]), math.Abs(p.Position[1])))
		}
		total += len(rows)
	}
	sort.Strings(names)
	pad := math.Ceil(extent * 1.1)

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "VIO Trajectory", Theme: "dark", Width: "900px", Height: "900px"}),
		charts.WithTitleOpts(opts.Title{Title: "Trajectory (top-down)", Subtitle: fmt.Sprintf("%s poses=%d", subtitle, total)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Min: -pad, Max: pad, Name: "X (m)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: -pad, Max: pad, Name: "Y (m)", NameLocation: "middle", NameGap: 30}),
	)
	for _, name := range names {
		data := make([]opts.ScatterData, 0, len(series[name]))
		for _, p := range series[name] {
			data = append(data, opts.ScatterData{Value: []interface{}{p.Position[0], p.Position[1], p.Stamp}})
		}
		scatter.AddSeries(name, data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 3}))
	}
	return scatter.Render(w)
}
