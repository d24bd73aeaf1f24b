package agent

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"

	"gonum.org/v1/gonum/mat"

	"github.com/gridproxy/leapnet/metrics"
	"github.com/gridproxy/leapnet/pkg/errors"
	"github.com/gridproxy/leapnet/pkg/log"
)

// recorder accumulates predictions and ground truth during evaluation, one
// (steps x width) matrix per output attribute.
type recorder struct {
	attrs []string
	pred  []*mat.Dense
	real  []*mat.Dense
}

func newRecorder(attrs []string, sizes []int, steps int) *recorder {
	r := &recorder{attrs: attrs}
	for _, sz := range sizes {
		r.pred = append(r.pred, mat.NewDense(steps, sz, nil))
		r.real = append(r.real, mat.NewDense(steps, sz, nil))
	}
	return r
}

func (r *recorder) record(step int, pred, real [][]float64) {
	for i := range r.attrs {
		r.pred[i].SetRow(step, pred[i])
		r.real[i].SetRow(step, real[i])
	}
}

// saveResults computes the configured metrics per output attribute,
// persists the prediction and ground-truth arrays plus a metrics.json
// summary under savePath/<name>, and returns the summary.
func (a *Agent) saveResults(savePath string, ms map[string]metrics.Metric, rec *recorder) (map[string]any, error) {
	if rec == nil {
		return nil, errors.NewValueError("Agent.saveResults", "no evaluation steps were recorded")
	}

	summary := map[string]any{
		"predict_step": a.globalIter,
		"predict_time": a.prx.PredictTime().Seconds(),
	}
	if a.globalIter > 0 {
		summary["avg_pred_time_s"] = a.prx.PredictTime().Seconds() / float64(a.globalIter)
	}

	for name, fn := range ms {
		perAttr := make(map[string]any, len(rec.attrs))
		for i, attr := range rec.attrs {
			vals, err := fn(rec.real[i], rec.pred[i])
			if err != nil {
				return nil, errors.Wrapf(err, "metric %q on %q", name, attr)
			}
			// scalar results serialize as a plain float, vector results
			// as a list
			if len(vals) == 1 {
				perAttr[attr] = vals[0]
			} else {
				perAttr[attr] = vals
			}
			a.log.Info("evaluation metric",
				"metric", name,
				"attr", attr,
				"value", vals,
			)
		}
		summary[name] = perAttr
	}

	if savePath == "" {
		return summary, nil
	}

	if err := a.Save(savePath); err != nil {
		return nil, err
	}
	dir := filepath.Join(savePath, a.Name())
	for i, attr := range rec.attrs {
		if err := writeMatrixCSV(filepath.Join(dir, attr+"_pred.csv"), rec.pred[i]); err != nil {
			return nil, err
		}
		if err := writeMatrixCSV(filepath.Join(dir, attr+"_real.csv"), rec.real[i]); err != nil {
			return nil, err
		}
	}

	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal metrics summary")
	}
	metricsPath := filepath.Join(dir, "metrics.json")
	if err := os.WriteFile(metricsPath, data, 0o644); err != nil {
		return nil, errors.Wrapf(err, "failed to write %q", metricsPath)
	}
	a.log.Info("evaluation results written", log.PathKey, dir)
	return summary, nil
}

func writeMatrixCSV(path string, m *mat.Dense) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "failed to create %q", path)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	rows, cols := m.Dims()
	record := make([]string, cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			record[j] = strconv.FormatFloat(m.At(i, j), 'g', -1, 64)
		}
		if err := w.Write(record); err != nil {
			return errors.Wrapf(err, "failed to write %q", path)
		}
	}
	w.Flush()
	return errors.Wrapf(w.Error(), "failed to flush %q", path)
}
