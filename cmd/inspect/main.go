// Command inspect summarizes a prebuilt store: per-variable mean/std on
// stdout and, optionally, a PNG plotting the per-step spatial mean of one
// variable.
package main

import (
	"fmt"
	"log/slog"
	"math"
	"os"

	"github.com/urfave/cli/v2"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/mlweather/datapipes/store"
)

func main() {
	app := &cli.App{
		Name:      "inspect",
		Usage:     "summarize a prebuilt zarr store",
		ArgsUsage: "<store.zarr>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "plot",
				Usage: "write a time-series plot of this variable's spatial mean",
			},
			&cli.StringFlag{
				Name:  "out",
				Usage: "output PNG path",
				Value: "inspect.png",
			},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		slog.Error("inspect failed", "err", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("expected exactly one store path argument")
	}
	ds, err := store.OpenZarr(c.Args().Get(0))
	if err != nil {
		return err
	}

	fmt.Printf("store %q: %d time steps, %d variables\n", ds.Name, ds.NumTimes(), len(ds.Vars))
	for _, name := range ds.VarNames() {
		a := ds.Vars[name]
		mean, std := moments(a.Data)
		fmt.Printf("  %-14s dims=%v mean=%.4f std=%.4f\n", name, a.Dims, mean, std)
	}

	if v := c.String("plot"); v != "" {
		return plotVariable(ds, v, c.String("out"))
	}
	return nil
}

func moments(data []float32) (mean, std float64) {
	if len(data) == 0 {
		return 0, 0
	}
	for _, v := range data {
		mean += float64(v)
	}
	mean /= float64(len(data))
	for _, v := range data {
		d := float64(v) - mean
		std += d * d
	}
	return mean, math.Sqrt(std / float64(len(data)))
}

// plotVariable writes the per-step spatial mean of one variable as a line
// plot.
func plotVariable(ds *store.Dataset, name, out string) error {
	a, err := ds.Var(name)
	if err != nil {
		return err
	}
	if len(a.Axes) == 0 || a.Axes[0] != store.AxisTime {
		return fmt.Errorf("variable %q has no time axis", name)
	}

	pts := make(plotter.XYs, a.Dims[0])
	for t := 0; t < a.Dims[0]; t++ {
		mean, _ := moments(a.Index(t).Data)
		pts[t].X = float64(t)
		pts[t].Y = mean
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s spatial mean (%s)", name, ds.Name)
	p.X.Label.Text = "time step"
	p.Y.Label.Text = name
	line, err := plotter.NewLine(pts)
	if err != nil {
		return err
	}
	line.Width = vg.Points(1)
	p.Add(line, plotter.NewGrid())
	p.Legend.Add(name, line)

	if err := p.Save(8*vg.Inch, 4*vg.Inch, out); err != nil {
		return err
	}
	slog.Info("plot written", "path", out, "variable", name)
	return nil
}
