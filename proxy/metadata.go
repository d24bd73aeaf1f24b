package proxy

import (
	"encoding/json"
	"os"

	"github.com/gridproxy/leapnet/pkg/errors"
)

// MetadataVersion is the current metadata schema version.
const MetadataVersion = 1

// AttributeStats is the frozen normalization record of one attribute.
type AttributeStats struct {
	Name string    `json:"name"`
	Mean []float64 `json:"mean"`
	Std  []float64 `json:"std"`
}

// Metadata captures everything needed to rebuild a proxy besides the
// learned parameters: attribute groups and widths, frozen statistics,
// architecture sizes and the training-buffer cursor. It must be loaded (or
// freshly computed by Init) before the model can be built.
type Metadata struct {
	Version int    `json:"version"`
	Name    string `json:"name"`

	AttrX   []string `json:"attr_x"`
	AttrTau []string `json:"attr_tau"`
	AttrY   []string `json:"attr_y"`

	SzX   []int `json:"sz_x"`
	SzTau []int `json:"sz_tau"`
	SzY   []int `json:"sz_y"`

	StatsX   []AttributeStats `json:"stats_x"`
	StatsTau []AttributeStats `json:"stats_tau"`
	StatsY   []AttributeStats `json:"stats_y"`

	SizesEnc  []int `json:"sizes_enc"`
	SizesMain []int `json:"sizes_main"`
	SizesOut  []int `json:"sizes_out"`

	ScaleMain     int `json:"scale_main_layer,omitempty"`
	ScaleInputEnc int `json:"scale_input_enc_layer,omitempty"`
	ScaleInputDec int `json:"scale_input_dec_layer,omitempty"`

	TrainIter int `json:"train_iter"`

	LastID  int  `json:"last_id"`
	Wrapped bool `json:"is_filled"`
}

// Validate checks structural consistency of a loaded record.
func (m *Metadata) Validate() error {
	if m.Version != MetadataVersion {
		return errors.Newf("leapnet: unsupported metadata version %d (want %d)", m.Version, MetadataVersion)
	}
	if len(m.AttrX) != len(m.SzX) || len(m.AttrX) != len(m.StatsX) {
		return errors.NewValueError("Metadata.Validate", "x group attrs, widths and stats misaligned")
	}
	if len(m.AttrTau) != len(m.SzTau) || len(m.AttrTau) != len(m.StatsTau) {
		return errors.NewValueError("Metadata.Validate", "tau group attrs, widths and stats misaligned")
	}
	if len(m.AttrY) != len(m.SzY) || len(m.AttrY) != len(m.StatsY) {
		return errors.NewValueError("Metadata.Validate", "y group attrs, widths and stats misaligned")
	}
	return nil
}

// WriteFile serializes the record as JSON to path.
func (m *Metadata) WriteFile(path string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal metadata")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrapf(err, "failed to write metadata to %q", path)
	}
	return nil
}

// ReadMetadata loads and validates a metadata record from path. A missing
// file surfaces as a LoadError.
func ReadMetadata(path string) (*Metadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewLoadError(path, err)
	}
	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errors.NewLoadError(path, err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}
