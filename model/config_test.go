package model

import (
	"strings"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
)

const validManifest = `{
	"model_name": "reflex-momentum",
	"version": "1.4.2",
	"lookback": 5,
	"threshold": 0.2,
	"cooldown_seconds": 30,
	"throttle": 0.5,
	"torque": 1.2,
	"max_hold_seconds": 90,
	"min_momentum": 0.05,
	"max_adds": 2,
	"narrow_threshold": 0.03,
	"min_volatility": 0.01,
	"min_volume": 1000,
	"target_points": 0.5,
	"stop_points": 0.15,
	"bid_volume_threshold": 4000,
	"adverse_pressure": 0.35,
	"ask_absorb_threshold": 200
}`

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig([]byte(validManifest))
	assert.NoError(t, err)

	assert.Equal(t, cfg.Name, "reflex-momentum")
	assert.Equal(t, cfg.Version, "1.4.2")
	assert.Equal(t, cfg.Lookback, time.Second*5)
	assert.Equal(t, cfg.Threshold, 0.2)
	assert.Equal(t, cfg.Cooldown, time.Second*30)
	assert.Equal(t, cfg.MaxHold, time.Second*90)
	assert.Equal(t, cfg.MaxAdds, uint32(2))
	assert.Equal(t, cfg.NarrowThreshold, 0.03)
	assert.Equal(t, cfg.MinVolatility, 0.01)
	assert.Equal(t, cfg.MinVolume, float64(1000))
	assert.Equal(t, cfg.TargetPoints, 0.5)
	assert.Equal(t, cfg.StopPoints, 0.15)
	assert.Equal(t, cfg.AskAbsorbThreshold, float64(200))
}

func TestParseConfigCooldownAlias(t *testing.T) {
	// The legacy cooldown_sec spelling is accepted as an alias.
	manifest := strings.Replace(validManifest, `"cooldown_seconds": 30`,
		`"cooldown_sec": 45`, 1)

	cfg, err := ParseConfig([]byte(manifest))
	assert.NoError(t, err)
	assert.Equal(t, cfg.Cooldown, time.Second*45)

	// The canonical spelling wins when both are present.
	manifest = strings.Replace(validManifest, `"cooldown_seconds": 30`,
		`"cooldown_seconds": 30, "cooldown_sec": 45`, 1)

	cfg, err = ParseConfig([]byte(manifest))
	assert.NoError(t, err)
	assert.Equal(t, cfg.Cooldown, time.Second*30)
}

func TestParseConfigUnknownFieldsIgnored(t *testing.T) {
	manifest := strings.Replace(validManifest, `"torque": 1.2`,
		`"torque": 1.2, "experimental_gain": 7, "notes": "draft"`, 1)

	cfg, err := ParseConfig([]byte(manifest))
	assert.NoError(t, err)
	assert.Equal(t, cfg.Torque, 1.2)
}

func TestParseConfigMissingFields(t *testing.T) {
	manifest := strings.Replace(validManifest, `"threshold": 0.2,`, "", 1)
	manifest = strings.Replace(manifest, `"cooldown_seconds": 30,`, "", 1)

	_, err := ParseConfig([]byte(manifest))
	assert.Error(t, err)

	// All missing fields are reported, not just the first.
	assert.True(t, strings.Contains(err.Error(), "threshold"))
	assert.True(t, strings.Contains(err.Error(), "cooldown_seconds"))
}

func TestParseConfigMalformed(t *testing.T) {
	_, err := ParseConfig([]byte(`{"model_name": "reflex-momentum",`))
	assert.Error(t, err)
}

func TestStoreSwaps(t *testing.T) {
	global, err := ParseConfig([]byte(validManifest))
	assert.NoError(t, err)

	store := NewStore(global)
	assert.Equal(t, store.Current("XYZ"), global)

	// A per-symbol override shadows the global config for that symbol only.
	override := *global
	override.Threshold = 0.35
	store.SwapSymbol("XYZ", &override)
	assert.Equal(t, store.Current("XYZ"), &override)
	assert.Equal(t, store.Current("ABC"), global)

	// A nil per-symbol config marks the symbol invalid without affecting
	// other symbols.
	store.SwapSymbol("XYZ", nil)
	assert.Nil(t, store.Current("XYZ"))
	assert.Equal(t, store.Current("ABC"), global)

	store.ClearSymbol("XYZ")
	assert.Equal(t, store.Current("XYZ"), global)

	next := *global
	next.Version = "1.5.0"
	store.SwapGlobal(&next)
	assert.Equal(t, store.Current("ABC"), &next)
}
