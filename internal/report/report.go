// Package report draws reward curves for training runs, as a PNG for the
// run directory and as an interactive chart for the debug server.
package report

import (
	"bytes"
	"errors"
	"fmt"
	"image/color"
	"io"
	"net/http"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/swingbot/internal/registry"
	"github.com/banshee-data/swingbot/internal/rollout"
)

// ErrNoData is returned when there is nothing to plot.
var ErrNoData = errors.New("no rollouts to plot")

// RewardPoint is the reward of one rollout.
type RewardPoint struct {
	Rollout int
	Mean    float64
	Std     float64
	Steps   int
}

// FromSummaries converts trainer summaries, skipping empty rollouts.
func FromSummaries(sums []rollout.Summary) []RewardPoint {
	var pts []RewardPoint
	for _, s := range sums {
		if s.Steps == 0 {
			continue
		}
		pts = append(pts, RewardPoint{Rollout: s.Index, Mean: s.MeanReward, Std: s.StdReward, Steps: s.Steps})
	}
	return pts
}

// FromRecords converts stored rollouts, skipping empty rollouts.
func FromRecords(recs []registry.RolloutRecord) []RewardPoint {
	var pts []RewardPoint
	for _, r := range recs {
		if r.Steps == 0 {
			continue
		}
		pts = append(pts, RewardPoint{Rollout: r.Index, Mean: r.MeanReward, Std: r.StdReward, Steps: r.Steps})
	}
	return pts
}

// SaveRewardPlot writes the mean reward per rollout, with a one standard
// deviation band, as a PNG at path.
func SaveRewardPlot(path, title string, pts []RewardPoint) error {
	if len(pts) == 0 {
		return ErrNoData
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Rollout"
	p.Y.Label.Text = "Reward per step"

	mean := make(plotter.XYs, len(pts))
	upper := make(plotter.XYs, len(pts))
	lower := make(plotter.XYs, len(pts))
	for i, pt := range pts {
		x := float64(pt.Rollout)
		mean[i] = plotter.XY{X: x, Y: pt.Mean}
		upper[i] = plotter.XY{X: x, Y: pt.Mean + pt.Std}
		lower[i] = plotter.XY{X: x, Y: pt.Mean - pt.Std}
	}

	meanLine, err := plotter.NewLine(mean)
	if err != nil {
		return fmt.Errorf("mean line: %w", err)
	}
	meanLine.Width = vg.Points(1.5)
	meanLine.Color = color.RGBA{R: 31, G: 119, B: 180, A: 255}

	band := color.RGBA{R: 150, G: 150, B: 150, A: 255}
	upperLine, err := plotter.NewLine(upper)
	if err != nil {
		return fmt.Errorf("upper line: %w", err)
	}
	upperLine.Width = vg.Points(0.5)
	upperLine.Color = band
	upperLine.Dashes = []vg.Length{vg.Points(3), vg.Points(2)}

	lowerLine, err := plotter.NewLine(lower)
	if err != nil {
		return fmt.Errorf("lower line: %w", err)
	}
	lowerLine.Width = vg.Points(0.5)
	lowerLine.Color = band
	lowerLine.Dashes = []vg.Length{vg.Points(3), vg.Points(2)}

	p.Add(plotter.NewGrid(), upperLine, lowerLine, meanLine)
	p.Legend.Add("mean", meanLine)
	p.Legend.Add("mean +/- std", upperLine)
	p.Legend.Top = true

	if err := p.Save(14*vg.Inch, 6*vg.Inch, path); err != nil {
		return fmt.Errorf("save reward plot: %w", err)
	}
	return nil
}

// RenderRewardChart writes an HTML line chart of mean reward and steps per
// rollout to w.
func RenderRewardChart(w io.Writer, title string, pts []RewardPoint) error {
	x := make([]string, len(pts))
	mean := make([]opts.LineData, len(pts))
	upper := make([]opts.LineData, len(pts))
	lower := make([]opts.LineData, len(pts))
	for i, pt := range pts {
		x[i] = fmt.Sprintf("%d", pt.Rollout)
		mean[i] = opts.LineData{Value: pt.Mean}
		upper[i] = opts.LineData{Value: pt.Mean + pt.Std}
		lower[i] = opts.LineData{Value: pt.Mean - pt.Std}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: title, Width: "100%", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: fmt.Sprintf("rollouts=%d", len(pts))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "rollout", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "reward", NameLocation: "middle", NameGap: 40}),
	)
	line.SetXAxis(x).
		AddSeries("mean", mean, charts.WithLineChartOpts(opts.LineChart{Smooth: opts.Bool(true)})).
		AddSeries("mean+std", upper).
		AddSeries("mean-std", lower)

	return line.Render(w)
}

// ChartHandler serves RenderRewardChart over the points returned by load.
func ChartHandler(title string, load func() ([]RewardPoint, error)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pts, err := load()
		if err != nil {
			http.Error(w, fmt.Sprintf("load rollouts: %v", err), http.StatusInternalServerError)
			return
		}
		var buf bytes.Buffer
		if err := RenderRewardChart(&buf, title, pts); err != nil {
			http.Error(w, fmt.Sprintf("render error: %v", err), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(buf.Bytes())
	})
}
