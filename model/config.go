package model

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/tidwall/gjson"
)

// Config represents an immutable, versioned model configuration. A config is
// never mutated once loaded; updates are applied by swapping the current
// reference in the store.
type Config struct {
	// Name is the model name.
	Name string
	// Version is the model version.
	Version string
	// Lookback is the momentum lookback window.
	Lookback time.Duration
	// Threshold is the momentum threshold for an entry.
	Threshold float64
	// Cooldown is the minimum duration between signals of the same kind.
	Cooldown time.Duration
	// Throttle governs sizing aggressiveness.
	Throttle float64
	// Torque governs stop aggressiveness.
	Torque float64
	// MaxHold is the maximum position hold duration.
	MaxHold time.Duration
	// MinMomentumToAdd is the minimum momentum required for a scale-in.
	MinMomentumToAdd float64
	// MaxAdds is the maximum number of scale-ins per position.
	MaxAdds uint32
	// NarrowThreshold is the spread below which the market is narrow.
	NarrowThreshold float64

	// Filter gates.
	MinVolatility float64
	MinVolume     float64

	// Exit parameters.
	TargetPoints       float64
	StopPoints         float64
	BidVolumeThreshold float64
	AdversePressure    float64

	// Add parameters.
	AskAbsorbThreshold float64
}

// requireField fetches a required numeric manifest field, accumulating an
// error when it is missing.
func requireField(doc *gjson.Result, name string, errs *error) float64 {
	field := doc.Get(name)
	if !field.Exists() {
		*errs = errors.Join(*errs, fmt.Errorf("missing required field %q", name))
		return 0
	}

	return field.Float()
}

// ParseConfig parses a model configuration from the provided JSON manifest.
// Unknown fields are ignored; missing required fields fail validation.
func ParseConfig(data []byte) (*Config, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("malformed model manifest")
	}

	doc := gjson.ParseBytes(data)

	cfg := &Config{
		Name:    doc.Get("model_name").String(),
		Version: doc.Get("version").String(),
	}
	if cfg.Name == "" {
		return nil, fmt.Errorf("missing required field %q", "model_name")
	}
	if cfg.Version == "" {
		return nil, fmt.Errorf("missing required field %q", "version")
	}

	var errs error
	cfg.Lookback = time.Duration(requireField(&doc, "lookback", &errs) * float64(time.Second))
	cfg.Threshold = requireField(&doc, "threshold", &errs)
	cfg.Throttle = requireField(&doc, "throttle", &errs)
	cfg.Torque = requireField(&doc, "torque", &errs)
	cfg.MaxHold = time.Duration(requireField(&doc, "max_hold_seconds", &errs) * float64(time.Second))
	cfg.MinMomentumToAdd = requireField(&doc, "min_momentum", &errs)
	cfg.MaxAdds = uint32(requireField(&doc, "max_adds", &errs))
	cfg.NarrowThreshold = requireField(&doc, "narrow_threshold", &errs)

	// The source manifests carry both spellings for the cooldown; the
	// canonical field is cooldown_seconds with cooldown_sec as an alias.
	cooldown := doc.Get("cooldown_seconds")
	if !cooldown.Exists() {
		cooldown = doc.Get("cooldown_sec")
	}
	if !cooldown.Exists() {
		errs = errors.Join(errs, fmt.Errorf("missing required field %q", "cooldown_seconds"))
	}
	cfg.Cooldown = time.Duration(cooldown.Float() * float64(time.Second))

	cfg.MinVolatility = doc.Get("min_volatility").Float()
	cfg.MinVolume = doc.Get("min_volume").Float()
	cfg.TargetPoints = doc.Get("target_points").Float()
	cfg.StopPoints = doc.Get("stop_points").Float()
	cfg.BidVolumeThreshold = doc.Get("bid_volume_threshold").Float()
	cfg.AdversePressure = doc.Get("adverse_pressure").Float()
	cfg.AskAbsorbThreshold = doc.Get("ask_absorb_threshold").Float()

	if errs != nil {
		return nil, errs
	}

	return cfg, nil
}

// LoadConfig loads a model configuration from the manifest at the provided
// file path.
func LoadConfig(filepath string) (*Config, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("reading model manifest %s: %w", filepath, err)
	}

	cfg, err := ParseConfig(data)
	if err != nil {
		return nil, fmt.Errorf("parsing model manifest %s: %w", filepath, err)
	}

	return cfg, nil
}
