// Package proxy implements the learned surrogate for the grid simulator:
// a circular training buffer fed by observations, frozen per-attribute
// normalization statistics, the leap-net model and its training and
// inference entry points, and the checkpoint metadata contract.
package proxy

import (
	"math"
	"path/filepath"
	"strings"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/gridproxy/leapnet/core/model"
	"github.com/gridproxy/leapnet/metrics"
	"github.com/gridproxy/leapnet/nn"
	"github.com/gridproxy/leapnet/pkg/errors"
	"github.com/gridproxy/leapnet/pkg/log"
	"github.com/gridproxy/leapnet/preprocessing"
)

// Proxy is a leap-net surrogate for one simulator instance. It is not safe
// for concurrent use: the buffer cursor and the network parameters are
// owned by exactly one instance and mutated synchronously.
type Proxy struct {
	model.Lifecycle

	cfg Config
	log log.Logger

	scaler *preprocessing.AttributeScaler
	buf    *Buffer
	net    *nn.LeapNet
	opt    *nn.Adam
	sched  nn.Schedule

	szX   []int
	szTau []int
	szY   []int

	metadataLoaded bool
	pendingCursor  *struct {
		lastID  int
		wrapped bool
	}

	trainIter int
	lastLoss  float64

	predictTime  time.Duration
	predictCount int
}

// New creates an unbuilt proxy from a validated configuration.
func New(cfg Config, logger log.Logger) (*Proxy, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Proxy{
		cfg:      cfg,
		log:      logger.With(log.ModelNameKey, cfg.Name),
		scaler:   preprocessing.NewAttributeScaler(),
		sched:    cfg.schedule(),
		lastLoss: math.NaN(),
	}, nil
}

func (c Config) schedule() nn.Schedule {
	switch c.Schedule.Kind {
	case ScheduleExponential:
		return nn.ExponentialDecay{Base: c.LR, DecayRate: c.Schedule.DecayRate, DecaySteps: c.Schedule.DecaySteps}
	case SchedulePlateau:
		return &nn.ReduceOnPlateau{Base: c.LR, Factor: c.Schedule.Factor, Patience: c.Schedule.Patience, MinLR: c.Schedule.MinLR}
	default:
		return nn.ConstantLR{LR: c.LR}
	}
}

// Name returns the model name used for checkpoint files.
func (p *Proxy) Name() string { return p.cfg.Name }

// AttrY returns the configured output attribute names.
func (p *Proxy) AttrY() []string { return append([]string(nil), p.cfg.AttrY...) }

// OutputSizes returns the width of each output attribute. The proxy must
// be initialized first.
func (p *Proxy) OutputSizes() ([]int, error) {
	if !p.IsInitialized() {
		return nil, errors.NewNotInitializedError("Proxy", "OutputSizes")
	}
	return append([]int(nil), p.szY...), nil
}

// TrainIter returns the number of completed training steps.
func (p *Proxy) TrainIter() int { return p.trainIter }

// PredictTime returns the cumulative wall time spent in forward passes.
func (p *Proxy) PredictTime() time.Duration { return p.predictTime }

// Init fixes every attribute width from the first bootstrap observation
// and, unless metadata was preloaded, computes the frozen normalization
// statistics from the whole bootstrap batch. It then allocates the
// training buffer. Statistics are never recomputed afterwards.
func (p *Proxy) Init(obss []Observation) error {
	if len(obss) == 0 {
		return errors.NewValueError("Proxy.Init", "need at least one bootstrap observation")
	}

	if !p.metadataLoaded {
		var err error
		if p.szX, err = widths(obss[0], p.cfg.AttrX); err != nil {
			return err
		}
		if p.szTau, err = widths(obss[0], p.cfg.AttrTau); err != nil {
			return err
		}
		if p.szY, err = widths(obss[0], p.cfg.AttrY); err != nil {
			return err
		}
		for _, attrs := range [][]string{p.cfg.AttrX, p.cfg.AttrTau, p.cfg.AttrY} {
			for _, attr := range attrs {
				samples := make([][]float64, len(obss))
				for i, o := range obss {
					v, err := o.Attr(attr)
					if err != nil {
						return err
					}
					samples[i] = v
				}
				if err := p.scaler.Fit(attr, samples); err != nil {
					return err
				}
			}
		}
	}

	buf, err := NewBuffer(p.cfg.Capacity, p.szX, p.szTau, p.szY, int64(p.cfg.Seed))
	if err != nil {
		return err
	}
	p.buf = buf
	if p.pendingCursor != nil {
		if err := p.buf.SetCursor(p.pendingCursor.lastID, p.pendingCursor.wrapped); err != nil {
			return err
		}
		p.pendingCursor = nil
	}

	p.SetInitialized()
	p.log.Info("proxy initialized",
		"n_x", len(p.cfg.AttrX),
		"n_tau", len(p.cfg.AttrTau),
		"n_y", len(p.cfg.AttrY),
		"capacity", p.cfg.Capacity,
	)
	return nil
}

func widths(obs Observation, attrs []string) ([]int, error) {
	szs := make([]int, len(attrs))
	for i, attr := range attrs {
		v, err := obs.Attr(attr)
		if err != nil {
			return nil, err
		}
		szs[i] = len(v)
	}
	return szs, nil
}

// BuildModel constructs the leap-net computation graph. It requires Init
// (or loaded metadata plus Init) to have fixed the widths, and is a no-op
// when the model already exists: rebuilding never changes parameters.
func (p *Proxy) BuildModel() error {
	if !p.IsInitialized() {
		return errors.NewNotInitializedError("Proxy", "BuildModel")
	}
	if p.net != nil {
		return nil
	}
	net, err := nn.NewLeapNet(nn.Architecture{
		AttrX:         p.cfg.AttrX,
		AttrTau:       p.cfg.AttrTau,
		AttrY:         p.cfg.AttrY,
		SzX:           p.szX,
		SzTau:         p.szTau,
		SzY:           p.szY,
		SizesEnc:      p.cfg.SizesEnc,
		SizesMain:     p.cfg.SizesMain,
		SizesOut:      p.cfg.SizesOut,
		ScaleMain:     p.cfg.ScaleMain,
		ScaleInputEnc: p.cfg.ScaleInputEnc,
		ScaleInputDec: p.cfg.ScaleInputDec,
		LineAttrs:     p.cfg.LineAttrs,
		Seed:          p.cfg.Seed,
	})
	if err != nil {
		return err
	}
	p.net = net
	p.opt = nn.NewAdam()
	p.SetBuilt()
	return nil
}

// StoreObs extracts all configured attributes from the observation into
// the training buffer at the current cursor.
func (p *Proxy) StoreObs(obs Observation) error {
	if !p.IsInitialized() || p.buf == nil {
		return errors.NewNotInitializedError("Proxy", "StoreObs")
	}
	rowX, err := p.extract(obs, p.cfg.AttrX, p.szX)
	if err != nil {
		return err
	}
	rowTau, err := p.extract(obs, p.cfg.AttrTau, p.szTau)
	if err != nil {
		return err
	}
	rowY, err := p.extract(obs, p.cfg.AttrY, p.szY)
	if err != nil {
		return err
	}
	return p.buf.Store(rowX, rowTau, rowY)
}

func (p *Proxy) extract(obs Observation, attrs []string, szs []int) ([][]float64, error) {
	rows := make([][]float64, len(attrs))
	for i, attr := range attrs {
		v, err := obs.Attr(attr)
		if err != nil {
			return nil, err
		}
		if len(v) != szs[i] {
			return nil, errors.NewDimensionError("Proxy.extract "+attr, szs[i], len(v))
		}
		rows[i] = v
	}
	return rows, nil
}

// TrainStep draws one mini-batch, normalizes it, performs a forward and
// backward pass and applies one optimizer update with the scheduled
// learning rate. It returns one mean-squared-error loss per output
// attribute, equally weighted in the update.
func (p *Proxy) TrainStep() ([]float64, error) {
	if p.net == nil || p.buf == nil {
		return nil, errors.NewNotInitializedError("Proxy", "TrainStep")
	}
	indices, err := p.buf.Sample(p.cfg.TrainBatchSize)
	if err != nil {
		return nil, err
	}

	rawXs := p.buf.Rows(GroupX, indices)
	rawTaus := p.buf.Rows(GroupTau, indices)
	rawYs := p.buf.Rows(GroupY, indices)

	xs, err := p.normalizeGroup(rawXs, p.cfg.AttrX)
	if err != nil {
		return nil, err
	}
	taus, err := p.normalizeGroup(rawTaus, p.cfg.AttrTau)
	if err != nil {
		return nil, err
	}
	ys, err := p.normalizeGroup(rawYs, p.cfg.AttrY)
	if err != nil {
		return nil, err
	}

	mask, err := p.net.Mask(rawXs, rawTaus)
	if err != nil {
		return nil, err
	}
	preds, err := p.net.Forward(xs, taus, mask)
	if err != nil {
		return nil, err
	}

	losses := make([]float64, len(preds))
	grads := make([]*mat.Dense, len(preds))
	for i, pred := range preds {
		r, c := pred.Dims()
		grad := mat.NewDense(r, c, nil)
		var sum float64
		n := float64(r * c)
		for ri := 0; ri < r; ri++ {
			for ci := 0; ci < c; ci++ {
				diff := pred.At(ri, ci) - ys[i].At(ri, ci)
				sum += diff * diff
				grad.Set(ri, ci, 2.0*diff/n)
			}
		}
		losses[i] = sum / n
		grads[i] = grad
	}

	if err := p.net.Backward(grads); err != nil {
		return nil, err
	}
	lr := p.sched.Next(p.opt.Steps(), p.lastLoss)
	if err := p.opt.Step(p.net.Params(), p.net.Grads(), lr); err != nil {
		return nil, err
	}

	var total float64
	for _, l := range losses {
		total += l
	}
	p.lastLoss = total
	p.trainIter++
	return losses, nil
}

func (p *Proxy) normalizeGroup(raw []*mat.Dense, attrs []string) ([]*mat.Dense, error) {
	out := make([]*mat.Dense, len(raw))
	for i, m := range raw {
		mean, std, err := p.scaler.Stats(attrs[i])
		if err != nil {
			return nil, err
		}
		r, c := m.Dims()
		if c != len(mean) {
			return nil, errors.NewDimensionError("Proxy.normalize "+attrs[i], len(mean), c)
		}
		norm := mat.NewDense(r, c, nil)
		for ri := 0; ri < r; ri++ {
			for ci := 0; ci < c; ci++ {
				norm.Set(ri, ci, (m.At(ri, ci)-mean[ci])/std[ci])
			}
		}
		out[i] = norm
	}
	return out, nil
}

// Predict runs a forward pass on the most recently stored feature row and
// returns one de-normalized output vector per Y attribute.
func (p *Proxy) Predict() ([][]float64, error) {
	if p.net == nil || p.buf == nil {
		return nil, errors.NewNotInitializedError("Proxy", "Predict")
	}
	rawXs, err := p.buf.LastRows(GroupX)
	if err != nil {
		return nil, err
	}
	rawTaus, err := p.buf.LastRows(GroupTau)
	if err != nil {
		return nil, err
	}
	return p.predictRaw(rawXs, rawTaus)
}

// PredictObs runs a forward pass directly on a fresh observation, without
// touching the buffer.
func (p *Proxy) PredictObs(obs Observation) ([][]float64, error) {
	if p.net == nil {
		return nil, errors.NewNotInitializedError("Proxy", "PredictObs")
	}
	rowX, err := p.extract(obs, p.cfg.AttrX, p.szX)
	if err != nil {
		return nil, err
	}
	rowTau, err := p.extract(obs, p.cfg.AttrTau, p.szTau)
	if err != nil {
		return nil, err
	}
	return p.predictRaw(rowsToMats(rowX), rowsToMats(rowTau))
}

func rowsToMats(rows [][]float64) []*mat.Dense {
	out := make([]*mat.Dense, len(rows))
	for i, row := range rows {
		out[i] = mat.NewDense(1, len(row), append([]float64(nil), row...))
	}
	return out
}

// predictRaw normalizes the raw input rows, runs the forward pass and
// de-normalizes each output by out*std + mean, the exact inverse of the
// training-time normalization. The disconnection mask multiplies the raw
// decoder output inside the network, before this de-normalization.
func (p *Proxy) predictRaw(rawXs, rawTaus []*mat.Dense) ([][]float64, error) {
	start := time.Now()
	defer func() {
		p.predictTime += time.Since(start)
		p.predictCount++
	}()

	xs, err := p.normalizeGroup(rawXs, p.cfg.AttrX)
	if err != nil {
		return nil, err
	}
	taus, err := p.normalizeGroup(rawTaus, p.cfg.AttrTau)
	if err != nil {
		return nil, err
	}
	mask, err := p.net.Mask(rawXs, rawTaus)
	if err != nil {
		return nil, err
	}
	preds, err := p.net.Forward(xs, taus, mask)
	if err != nil {
		return nil, err
	}

	out := make([][]float64, len(preds))
	for i, pred := range preds {
		_, c := pred.Dims()
		row := make([]float64, c)
		mat.Row(row, 0, pred)
		denorm, err := p.scaler.InverseTransform(p.cfg.AttrY[i], row)
		if err != nil {
			return nil, err
		}
		out[i] = denorm
	}
	return out, nil
}

// TrueOutput extracts the raw ground-truth output vectors from an
// observation, in the same attribute order as Predict.
func (p *Proxy) TrueOutput(obs Observation) ([][]float64, error) {
	if !p.IsInitialized() {
		return nil, errors.NewNotInitializedError("Proxy", "TrueOutput")
	}
	return p.extract(obs, p.cfg.AttrY, p.szY)
}

// EvaluateBatch runs the network over a sampled evaluation batch and
// returns the per-output mean squared error in normalized space. Useful
// for monitoring without touching the optimizer.
func (p *Proxy) EvaluateBatch() ([]float64, error) {
	if p.net == nil || p.buf == nil {
		return nil, errors.NewNotInitializedError("Proxy", "EvaluateBatch")
	}
	batch := p.cfg.EvalBatchSize
	if filled := p.buf.FilledCount(); batch > filled {
		batch = filled
	}
	if batch == 0 {
		return nil, errors.NewInsufficientDataError("Proxy.EvaluateBatch", 1, 0)
	}
	indices, err := p.buf.Sample(batch)
	if err != nil {
		return nil, err
	}
	rawXs := p.buf.Rows(GroupX, indices)
	rawTaus := p.buf.Rows(GroupTau, indices)
	rawYs := p.buf.Rows(GroupY, indices)
	xs, err := p.normalizeGroup(rawXs, p.cfg.AttrX)
	if err != nil {
		return nil, err
	}
	taus, err := p.normalizeGroup(rawTaus, p.cfg.AttrTau)
	if err != nil {
		return nil, err
	}
	ys, err := p.normalizeGroup(rawYs, p.cfg.AttrY)
	if err != nil {
		return nil, err
	}
	mask, err := p.net.Mask(rawXs, rawTaus)
	if err != nil {
		return nil, err
	}
	preds, err := p.net.Forward(xs, taus, mask)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(preds))
	for i, pred := range preds {
		mse, err := metrics.MSEMean(ys[i], pred)
		if err != nil {
			return nil, err
		}
		out[i] = mse[0]
	}
	return out, nil
}

// Metadata snapshots everything needed to rebuild this proxy besides the
// learned parameters.
func (p *Proxy) Metadata() (*Metadata, error) {
	if !p.IsInitialized() {
		return nil, errors.NewNotInitializedError("Proxy", "Metadata")
	}
	stats := func(attrs []string) ([]AttributeStats, error) {
		out := make([]AttributeStats, len(attrs))
		for i, attr := range attrs {
			mean, std, err := p.scaler.Stats(attr)
			if err != nil {
				return nil, err
			}
			out[i] = AttributeStats{
				Name: attr,
				Mean: append([]float64(nil), mean...),
				Std:  append([]float64(nil), std...),
			}
		}
		return out, nil
	}
	statsX, err := stats(p.cfg.AttrX)
	if err != nil {
		return nil, err
	}
	statsTau, err := stats(p.cfg.AttrTau)
	if err != nil {
		return nil, err
	}
	statsY, err := stats(p.cfg.AttrY)
	if err != nil {
		return nil, err
	}
	var lastID int
	var wrapped bool
	switch {
	case p.buf != nil:
		lastID, wrapped = p.buf.Cursor()
	case p.pendingCursor != nil:
		lastID, wrapped = p.pendingCursor.lastID, p.pendingCursor.wrapped
	}
	return &Metadata{
		Version:       MetadataVersion,
		Name:          p.cfg.Name,
		AttrX:         append([]string(nil), p.cfg.AttrX...),
		AttrTau:       append([]string(nil), p.cfg.AttrTau...),
		AttrY:         append([]string(nil), p.cfg.AttrY...),
		SzX:           append([]int(nil), p.szX...),
		SzTau:         append([]int(nil), p.szTau...),
		SzY:           append([]int(nil), p.szY...),
		StatsX:        statsX,
		StatsTau:      statsTau,
		StatsY:        statsY,
		SizesEnc:      append([]int(nil), p.cfg.SizesEnc...),
		SizesMain:     append([]int(nil), p.cfg.SizesMain...),
		SizesOut:      append([]int(nil), p.cfg.SizesOut...),
		ScaleMain:     p.cfg.ScaleMain,
		ScaleInputEnc: p.cfg.ScaleInputEnc,
		ScaleInputDec: p.cfg.ScaleInputDec,
		TrainIter:     p.trainIter,
		LastID:        lastID,
		Wrapped:       wrapped,
	}, nil
}

// ApplyMetadata restores a persisted record into this proxy: attribute
// groups, widths, architecture sizes, frozen statistics, training counter
// and buffer cursor. It must be called before BuildModel; the cursor is
// restored into the buffer on the next Init.
func (p *Proxy) ApplyMetadata(m *Metadata) error {
	if err := m.Validate(); err != nil {
		return err
	}
	if p.net != nil {
		return errors.NewValueError("Proxy.ApplyMetadata", "model already built; metadata must be loaded first")
	}

	p.cfg.Name = m.Name
	p.cfg.AttrX = append([]string(nil), m.AttrX...)
	p.cfg.AttrTau = append([]string(nil), m.AttrTau...)
	p.cfg.AttrY = append([]string(nil), m.AttrY...)
	p.cfg.SizesEnc = append([]int(nil), m.SizesEnc...)
	p.cfg.SizesMain = append([]int(nil), m.SizesMain...)
	p.cfg.SizesOut = append([]int(nil), m.SizesOut...)
	p.cfg.ScaleMain = m.ScaleMain
	p.cfg.ScaleInputEnc = m.ScaleInputEnc
	p.cfg.ScaleInputDec = m.ScaleInputDec
	p.szX = append([]int(nil), m.SzX...)
	p.szTau = append([]int(nil), m.SzTau...)
	p.szY = append([]int(nil), m.SzY...)
	p.trainIter = m.TrainIter

	for _, group := range [][]AttributeStats{m.StatsX, m.StatsTau, m.StatsY} {
		for _, st := range group {
			if err := p.scaler.SetStats(st.Name, st.Mean, st.Std); err != nil {
				return err
			}
		}
	}

	p.pendingCursor = &struct {
		lastID  int
		wrapped bool
	}{m.LastID, m.Wrapped}
	if p.buf != nil {
		if err := p.buf.SetCursor(m.LastID, m.Wrapped); err != nil {
			return err
		}
		p.pendingCursor = nil
	}

	p.metadataLoaded = true
	p.SetInitialized()
	return nil
}

// NormalizeExt guarantees a file extension starts with a dot; empty means
// the default ".gob".
func NormalizeExt(ext string) string {
	if ext == "" {
		return ".gob"
	}
	if !strings.HasPrefix(ext, ".") {
		return "." + ext
	}
	return ext
}

// WeightsPath returns the weights file path for this proxy under dir.
func (p *Proxy) WeightsPath(dir, ext string) string {
	return filepath.Join(dir, p.cfg.Name+NormalizeExt(ext))
}

// SaveWeights writes the learned parameters as an opaque gob blob named by
// the model name and extension under dir.
func (p *Proxy) SaveWeights(dir, ext string) error {
	if p.net == nil {
		return errors.NewNotInitializedError("Proxy", "SaveWeights")
	}
	return model.SaveBlob(p.net.Weights(), p.WeightsPath(dir, ext))
}

// LoadWeights restores learned parameters saved by SaveWeights. The model
// must have been rebuilt from metadata first so that the parameter shapes
// exist to receive the blob.
func (p *Proxy) LoadWeights(dir, ext string) error {
	if p.net == nil {
		return errors.NewNotInitializedError("Proxy", "LoadWeights")
	}
	var ws [][]float64
	if err := model.LoadBlob(&ws, p.WeightsPath(dir, ext)); err != nil {
		return err
	}
	return p.net.SetWeights(ws)
}
