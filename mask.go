package landcover

import (
	"encoding/json"
	"fmt"
	"math"
)

// MaskEncoding tells how a quality band encodes pixel conditions.
type MaskEncoding int

const (
	// MaskBitmask quality values are bit fields, one flag per bit.
	MaskBitmask MaskEncoding = iota
	// MaskClassCode quality values are scene classification codes.
	MaskClassCode
)

func (e MaskEncoding) String() string {
	switch e {
	case MaskBitmask:
		return "bitmask"
	case MaskClassCode:
		return "classcode"
	}
	return fmt.Sprintf("MaskEncoding(%d)", int(e))
}

func (e MaskEncoding) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.String())
}

func (e *MaskEncoding) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("mask encoding: %w", err)
	}
	switch s {
	case "bitmask", "bits":
		*e = MaskBitmask
	case "classcode", "class", "scl":
		*e = MaskClassCode
	default:
		return fmt.Errorf("unknown mask encoding %q", s)
	}
	return nil
}

// MaskConfig describes which quality values flag a pixel as cloud, shadow
// or otherwise unusable.
type MaskConfig struct {
	QualityBand    string       `json:"qualityBand"`
	Encoding       MaskEncoding `json:"encoding"`
	ExcludeBits    []uint       `json:"excludeBits,omitempty"`
	ExcludeClasses []int        `json:"excludeClasses,omitempty"`
}

// Landsat8C2Mask flags dilated cloud, cirrus, cloud and cloud shadow in the
// Collection 2 QA_PIXEL band.
func Landsat8C2Mask() MaskConfig {
	return MaskConfig{
		QualityBand: "QA_PIXEL",
		Encoding:    MaskBitmask,
		ExcludeBits: []uint{1, 2, 3, 4},
	}
}

// Sentinel2SCLMask flags cloud shadow, medium and high probability cloud
// and thin cirrus in the L2A scene classification layer.
func Sentinel2SCLMask() MaskConfig {
	return MaskConfig{
		QualityBand:    "SCL",
		Encoding:       MaskClassCode,
		ExcludeClasses: []int{3, 8, 9, 10},
	}
}

// Sentinel2QA60Mask flags opaque clouds and cirrus in the L1C QA60 band.
func Sentinel2QA60Mask() MaskConfig {
	return MaskConfig{
		QualityBand: "QA60",
		Encoding:    MaskBitmask,
		ExcludeBits: []uint{10, 11},
	}
}

func (cfg MaskConfig) validate() error {
	if cfg.QualityBand == "" {
		return fmt.Errorf("mask: missing quality band")
	}
	switch cfg.Encoding {
	case MaskBitmask:
		for _, b := range cfg.ExcludeBits {
			if b > 63 {
				return fmt.Errorf("mask: bit %d out of range", b)
			}
		}
	case MaskClassCode:
	default:
		return fmt.Errorf("mask: unknown encoding %d", cfg.Encoding)
	}
	return nil
}

// BuildMask derives the validity of every pixel of t from its quality band.
// Pixels whose quality value is no-data are invalid. The tile is not
// modified.
func BuildMask(t *Tile, cfg MaskConfig) (*MaskedTile, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	q, err := t.Band(cfg.QualityBand)
	if err != nil {
		return nil, err
	}
	valid := make([]bool, t.Size())
	switch cfg.Encoding {
	case MaskBitmask:
		var bad uint64
		for _, b := range cfg.ExcludeBits {
			bad |= 1 << b
		}
		for i, v := range q.Data {
			if q.IsNoData(i) || v < 0 || v > math.MaxUint64 {
				continue
			}
			valid[i] = uint64(v)&bad == 0
		}
	case MaskClassCode:
		excluded := make(map[int]struct{}, len(cfg.ExcludeClasses))
		for _, c := range cfg.ExcludeClasses {
			excluded[c] = struct{}{}
		}
		for i, v := range q.Data {
			if q.IsNoData(i) {
				continue
			}
			_, bad := excluded[int(v)]
			valid[i] = !bad
		}
	}
	return &MaskedTile{Tile: t, Valid: valid}, nil
}
