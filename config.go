package landcover

import (
	"fmt"
	"io"
	"time"

	"sigs.k8s.io/yaml"
)

const dateLayout = "2006-01-02"

// Config holds every parameter of a classification run.
type Config struct {
	// StartDate and EndDate bound acquisition dates, YYYY-MM-DD, the end
	// date being exclusive.
	StartDate     string  `json:"startDate"`
	EndDate       string  `json:"endDate"`
	MaxCloudCover float64 `json:"maxCloudCover"`

	Mask    MaskConfig  `json:"mask"`
	Scales  []BandScale `json:"scales"`
	Indices []IndexDef  `json:"indices"`
	// InputBands are loaded from every scene. They default to the scaled
	// bands plus the quality band.
	InputBands []string `json:"inputBands,omitempty"`
	// TrainingBands are the classifier features.
	TrainingBands []string `json:"trainingBands"`

	Forest ForestConfig `json:"forest"`
	// ValidationFraction of the samples is held out for the accuracy
	// assessment, 0 to train on every sample.
	ValidationFraction float64 `json:"validationFraction,omitempty"`

	Classes ClassTable `json:"classes"`
	// LabelProperty is the GeoJSON property holding the class label.
	LabelProperty string `json:"labelProperty"`

	// PixelArea in squared projection units, 0 to derive it from the
	// grid.
	PixelArea  float64 `json:"pixelArea"`
	AreaUnit   string  `json:"areaUnit,omitempty"`
	AreaFactor float64 `json:"areaFactor,omitempty"`
	// Region is a GeoJSON file bounding the area statistics and scene
	// selection.
	Region string `json:"region,omitempty"`
}

// DefaultConfig returns the settings for Landsat 8 Collection 2 Level 2
// surface reflectance with the four class legend.
func DefaultConfig() Config {
	return Config{
		StartDate:     "2022-01-01",
		EndDate:       "2023-01-01",
		MaxCloudCover: 20,
		Mask:          Landsat8C2Mask(),
		Scales:        Landsat8C2Scale(),
		Indices:       Landsat8Indices(),
		TrainingBands: []string{"SR_B2", "SR_B3", "SR_B4", "SR_B5", "SR_B6", "SR_B7", "NDVI", "MNDWI", "NDBI"},
		Forest:        DefaultForestConfig(),
		Classes:       DefaultClasses(),
		LabelProperty: "class",
		PixelArea:     900,
		AreaUnit:      "m2",
		AreaFactor:    1,
	}
}

// LoadConfig decodes a YAML configuration over DefaultConfig and validates
// it.
func LoadConfig(r io.Reader) (Config, error) {
	cfg := DefaultConfig()
	data, err := io.ReadAll(r)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Period returns the parsed acquisition date range.
func (c Config) Period() (start, end time.Time, err error) {
	if c.StartDate != "" {
		if start, err = time.Parse(dateLayout, c.StartDate); err != nil {
			return start, end, fmt.Errorf("start date: %w", err)
		}
	}
	if c.EndDate != "" {
		if end, err = time.Parse(dateLayout, c.EndDate); err != nil {
			return start, end, fmt.Errorf("end date: %w", err)
		}
	}
	if !start.IsZero() && !end.IsZero() && !start.Before(end) {
		return start, end, fmt.Errorf("start date %s not before end date %s", c.StartDate, c.EndDate)
	}
	return start, end, nil
}

// LoadBands returns the bands to read from each scene.
func (c Config) LoadBands() []string {
	if len(c.InputBands) > 0 {
		return c.InputBands
	}
	bands := make([]string, 0, len(c.Scales)+1)
	seen := map[string]bool{}
	for _, s := range c.Scales {
		if !seen[s.Band] {
			bands = append(bands, s.Band)
			seen[s.Band] = true
		}
	}
	if !seen[c.Mask.QualityBand] {
		bands = append(bands, c.Mask.QualityBand)
	}
	return bands
}

// Validate checks the configuration is consistent.
func (c Config) Validate() error {
	if _, _, err := c.Period(); err != nil {
		return err
	}
	if err := c.Mask.validate(); err != nil {
		return err
	}
	if err := c.Forest.validate(); err != nil {
		return err
	}
	if err := c.Classes.Validate(); err != nil {
		return err
	}
	if len(c.TrainingBands) == 0 {
		return fmt.Errorf("no training bands")
	}
	available := map[string]bool{}
	for _, b := range c.LoadBands() {
		available[b] = true
	}
	for _, idx := range c.Indices {
		if !available[idx.A] || !available[idx.B] {
			return fmt.Errorf("index %s uses bands %s and %s that are not loaded", idx.Name, idx.A, idx.B)
		}
		available[idx.Name] = true
	}
	for _, b := range c.TrainingBands {
		if !available[b] {
			return fmt.Errorf("training band %s is neither loaded nor computed", b)
		}
	}
	if c.ValidationFraction < 0 || c.ValidationFraction >= 1 {
		return fmt.Errorf("validation fraction must be in [0,1)")
	}
	if c.PixelArea < 0 {
		return fmt.Errorf("negative pixel area")
	}
	return nil
}

// AreaOptions returns the area aggregation options of the configuration.
func (c Config) AreaOptions() []AreaOption {
	var opts []AreaOption
	if c.AreaUnit != "" && c.AreaFactor > 0 {
		opts = append(opts, AreaUnit(c.AreaUnit, c.AreaFactor))
	}
	return opts
}
