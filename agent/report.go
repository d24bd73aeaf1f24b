package agent

import (
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/gridproxy/leapnet/pkg/errors"
)

// saveLossCurve renders the per-step total training loss to a PNG next to
// the checkpoint, as a quick visual check of convergence.
func saveLossCurve(path string, losses []float64) error {
	p := plot.New()
	p.Title.Text = "training loss"
	p.X.Label.Text = "training iteration"
	p.Y.Label.Text = "total loss"

	pts := make(plotter.XYs, len(losses))
	for i, l := range losses {
		pts[i].X = float64(i + 1)
		pts[i].Y = l
	}
	line, err := plotter.NewLine(pts)
	if err != nil {
		return errors.Wrap(err, "failed to build loss line")
	}
	p.Add(line)
	p.Add(plotter.NewGrid())

	if err := p.Save(8*vg.Inch, 4*vg.Inch, path); err != nil {
		return errors.Wrapf(err, "failed to save loss curve to %q", path)
	}
	return nil
}
