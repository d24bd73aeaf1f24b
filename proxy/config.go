package proxy

import "github.com/gridproxy/leapnet/pkg/errors"

// ScheduleKind selects the learning-rate schedule.
type ScheduleKind string

const (
	// ScheduleConstant keeps the learning rate fixed.
	ScheduleConstant ScheduleKind = "constant"
	// ScheduleExponential decays the learning rate monotonically.
	ScheduleExponential ScheduleKind = "exponential"
	// SchedulePlateau reduces the learning rate when the loss plateaus.
	SchedulePlateau ScheduleKind = "plateau"
)

// ScheduleConfig configures the learning-rate schedule.
type ScheduleConfig struct {
	Kind       ScheduleKind `json:"kind"`
	DecayRate  float64      `json:"decay_rate,omitempty"`
	DecaySteps int          `json:"decay_steps,omitempty"`
	Factor     float64      `json:"factor,omitempty"`
	Patience   int          `json:"patience,omitempty"`
	MinLR      float64      `json:"min_lr,omitempty"`
}

// Config holds every tunable of the proxy: attribute roles, buffer and
// batch sizes, architecture widths and the training regimen.
type Config struct {
	Name string

	// Capacity is the fixed number of rows in the circular training
	// buffer. Resizing requires recreating the proxy.
	Capacity       int
	TrainBatchSize int
	EvalBatchSize  int

	// Attribute groups. Membership is configured, never inferred.
	AttrX   []string
	AttrTau []string
	AttrY   []string

	SizesEnc  []int
	SizesMain []int
	SizesOut  []int

	// Optional up-scaling projections; zero disables them.
	ScaleMain     int
	ScaleInputEnc int
	ScaleInputDec int

	// LineAttrs is the set of line-indexed output attributes subject to
	// disconnection masking. Empty means the default set.
	LineAttrs []string

	// LossWeights is carried for forward compatibility; every output is
	// currently weighted equally and the field is only validated.
	LossWeights map[string]float64

	LR       float64
	Schedule ScheduleConfig

	Seed uint64
}

// DefaultConfig mirrors the historical defaults of the surrogate: the
// case-14 attribute groups, a 1e5-row buffer and the (20,20,20) /
// (150,150,150) / (100,40) layer sizes.
func DefaultConfig() Config {
	return Config{
		Name:           "leap_net",
		Capacity:       100000,
		TrainBatchSize: 32,
		EvalBatchSize:  1024,
		AttrX:          []string{"prod_p", "prod_v", "load_p", "load_q"},
		AttrY:          []string{"a_or", "a_ex", "p_or", "p_ex", "q_or", "q_ex", "prod_q", "load_v"},
		AttrTau:        []string{"line_status"},
		SizesEnc:       []int{20, 20, 20},
		SizesMain:      []int{150, 150, 150},
		SizesOut:       []int{100, 40},
		LR:             1e-4,
		Schedule:       ScheduleConfig{Kind: ScheduleConstant},
		Seed:           1,
	}
}

// Validate checks the configuration for structural problems.
func (c Config) Validate() error {
	if c.Name == "" {
		return errors.NewValueError("Config.Validate", "name must not be empty")
	}
	if c.Capacity <= 0 {
		return errors.NewValueError("Config.Validate", "capacity must be positive")
	}
	if c.TrainBatchSize <= 0 || c.TrainBatchSize > c.Capacity {
		return errors.NewValueError("Config.Validate", "train batch size must be in (0, capacity]")
	}
	if len(c.AttrX) == 0 {
		return errors.NewValueError("Config.Validate", "attr_x must not be empty")
	}
	if len(c.AttrY) == 0 {
		return errors.NewValueError("Config.Validate", "attr_y must not be empty")
	}
	if c.LR <= 0 {
		return errors.NewValueError("Config.Validate", "learning rate must be positive")
	}
	for attr := range c.LossWeights {
		if !contains(c.AttrY, attr) {
			return errors.NewValueError("Config.Validate", "loss weight for unknown output "+attr)
		}
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
