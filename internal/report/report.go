// Package report renders a standalone HTML summary of a pipeline run
// using go-echarts: per-cell volume and sphericity charts plus a
// scatter of volume against skeleton complexity when skeleton metrics
// were computed. Like export, this is a presentation collaborator; the
// core never renders anything.
package report

import (
	"fmt"
	"io"
	"os"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/CGK-Laboratory/pycroglia/pkg/pipeline"
)

// Write renders the report page for one run.
func Write(w io.Writer, res *pipeline.Result) error {
	page := components.NewPage()
	page.PageTitle = fmt.Sprintf("pycroglia run %s", res.RunID)

	page.AddCharts(volumeBar(res), sphericityBar(res))
	if hasSkeletons(res) {
		page.AddCharts(complexityScatter(res))
	}

	return page.Render(w)
}

// WriteFile renders the report page to a file path.
func WriteFile(path string, res *pipeline.Result) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return Write(f, res)
}

func volumeBar(res *pipeline.Result) *charts.Bar {
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title:    "Cell volumes",
			Subtitle: fmt.Sprintf("source=%s cells=%d", res.Source, len(res.Descriptors)),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)

	labels := make([]string, 0, len(res.Descriptors))
	values := make([]opts.BarData, 0, len(res.Descriptors))
	for _, d := range res.Descriptors {
		labels = append(labels, fmt.Sprintf("cell %d", d.Label))
		values = append(values, opts.BarData{Value: d.Volume})
	}
	bar.SetXAxis(labels).AddSeries("volume", values)
	return bar
}

func sphericityBar(res *pipeline.Result) *charts.Bar {
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "Sphericity"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)

	labels := make([]string, 0, len(res.Descriptors))
	values := make([]opts.BarData, 0, len(res.Descriptors))
	for _, d := range res.Descriptors {
		labels = append(labels, fmt.Sprintf("cell %d", d.Label))
		values = append(values, opts.BarData{Value: d.Sphericity})
	}
	bar.SetXAxis(labels).AddSeries("sphericity", values)
	return bar
}

func complexityScatter(res *pipeline.Result) *charts.Scatter {
	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title:    "Process complexity",
			Subtitle: "volume vs. skeleton branch points",
		}),
		charts.WithXAxisOpts(opts.XAxis{Name: "volume"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "branch points"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)

	data := make([]opts.ScatterData, 0, len(res.Descriptors))
	for _, d := range res.Descriptors {
		if d.Skeleton == nil {
			continue
		}
		data = append(data, opts.ScatterData{
			Value: []interface{}{d.Volume, d.Skeleton.BranchPoints},
		})
	}
	scatter.AddSeries("cells", data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 8}))
	return scatter
}

func hasSkeletons(res *pipeline.Result) bool {
	for _, d := range res.Descriptors {
		if d.Skeleton != nil {
			return true
		}
	}
	return false
}
