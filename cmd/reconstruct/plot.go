package main

import (
	"fmt"
	"image/color"
	"math"

	"gonum.org/v1/plot"

	// Liberation fonts register automatically on import
	_ "gonum.org/v1/plot/font/liberation"

	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
)

// makeCostPlot writes the per-iteration cost history to a PNG file.
func makeCostPlot(costs []float64, title, path string) error {
	p := plot.New()

	// Modify the font fields directly on existing styles
	p.Title.TextStyle.Font.Typeface = "Liberation"
	p.Title.TextStyle.Font.Variant = "Sans"
	p.Title.TextStyle.Font.Size = vg.Points(12)

	p.X.Label.TextStyle.Font.Typeface = "Liberation"
	p.X.Label.TextStyle.Font.Variant = "Sans"
	p.X.Label.TextStyle.Font.Size = vg.Points(12)

	p.Y.Label.TextStyle.Font.Typeface = "Liberation"
	p.Y.Label.TextStyle.Font.Variant = "Sans"
	p.Y.Label.TextStyle.Font.Size = vg.Points(12)

	p.X.Tick.Label.Font.Typeface = "Liberation"
	p.X.Tick.Label.Font.Variant = "Sans"
	p.X.Tick.Label.Font.Size = vg.Points(10)

	p.Y.Tick.Label.Font.Typeface = "Liberation"
	p.Y.Tick.Label.Font.Variant = "Sans"
	p.Y.Tick.Label.Font.Size = vg.Points(10)

	if title == "" {
		title = "Reconstruction cost history"
	}
	p.Title.Text = title
	p.X.Label.Text = "outer iteration"
	p.Y.Label.Text = "cost"

	p.X.Tick.Marker = StepTicks{Step: math.Max(1, float64(len(costs))/10), Format: "%.0f"}
	p.Add(plotter.NewGrid()) // grid + ticks

	n := len(costs)
	pts := make(plotter.XYs, n)
	for i := 0; i < n; i++ {
		pts[i].X = float64(i)
		pts[i].Y = costs[i]
	}

	linePoints, scatterPoints, err := plotter.NewLinePoints(pts)
	if err != nil {
		return err
	}
	linePoints.Color = color.RGBA{R: 0, G: 0, B: 255, A: 255} // blue
	linePoints.Width = vg.Points(1)

	scatterPoints.Shape = draw.CircleGlyph{}
	scatterPoints.Radius = vg.Points(2)
	scatterPoints.Color = color.RGBA{R: 120, G: 120, B: 120, A: 255}

	p.Add(linePoints, scatterPoints)

	return p.Save(8*vg.Inch, 4*vg.Inch, path)
}

type StepTicks struct {
	Step   float64
	Format string
}

func (t StepTicks) Ticks(min, max float64) []plot.Tick {
	var ticks []plot.Tick
	start := math.Ceil(min/t.Step) * t.Step
	for v := start; v <= max; v += t.Step {
		ticks = append(ticks, plot.Tick{
			Value: v,
			Label: fmt.Sprintf(t.Format, v),
		})
	}
	return ticks
}
