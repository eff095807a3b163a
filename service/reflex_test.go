package service

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/reflexhq/reflex/model"
	"github.com/reflexhq/reflex/shared"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
)

const controlManifest = `{
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

func TestReflexConfigValidate(t *testing.T) {
	_, cancel := context.WithCancel(context.Background())
	defer cancel()

	tests := []struct {
		name    string
		cfg     ReflexConfig
		wantErr bool
	}{
		{
			name: "valid live config",
			cfg: ReflexConfig{
				Symbols:       []string{"XYZ"},
				FeedURL:       "wss://feed.example.com/stocks",
				FeedAPIKey:    "key",
				ModelManifest: "manifest.json",
				Cancel:        cancel,
			},
			wantErr: false,
		},
		{
			name: "valid replay config",
			cfg: ReflexConfig{
				Symbols:        []string{"XYZ"},
				ModelManifest:  "manifest.json",
				Replay:         true,
				ReplayFilepath: "replay.jsonl",
				Cancel:         cancel,
			},
			wantErr: false,
		},
		{
			name: "missing symbols",
			cfg: ReflexConfig{
				FeedURL:       "wss://feed.example.com/stocks",
				FeedAPIKey:    "key",
				ModelManifest: "manifest.json",
				Cancel:        cancel,
			},
			wantErr: true,
		},
		{
			name: "missing model manifest",
			cfg: ReflexConfig{
				Symbols:    []string{"XYZ"},
				FeedURL:    "wss://feed.example.com/stocks",
				FeedAPIKey: "key",
				Cancel:     cancel,
			},
			wantErr: true,
		},
		{
			name: "missing feed credentials for live mode",
			cfg: ReflexConfig{
				Symbols:       []string{"XYZ"},
				ModelManifest: "manifest.json",
				Cancel:        cancel,
			},
			wantErr: true,
		},
		{
			name: "missing replay filepath for replay mode",
			cfg: ReflexConfig{
				Symbols:       []string{"XYZ"},
				ModelManifest: "manifest.json",
				Replay:        true,
				Cancel:        cancel,
			},
			wantErr: true,
		},
		{
			name: "missing cancel function",
			cfg: ReflexConfig{
				Symbols:       []string{"XYZ"},
				FeedURL:       "wss://feed.example.com/stocks",
				FeedAPIKey:    "key",
				ModelManifest: "manifest.json",
			},
			wantErr: true,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			err := test.cfg.Validate()
			if test.wantErr {
				assert.Error(t, err)
				return
			}

			assert.NoError(t, err)
		})
	}
}

func TestParseFlagMessage(t *testing.T) {
	msg := gjson.Parse(`{"type":"flag","symbol":"XYZ","flag_type":"manual_exclude",` +
		`"at":1717423805123,"confidence":0.9,"metadata":"halt pending news"}`)

	flag, err := parseFlagMessage(&msg)
	assert.NoError(t, err)
	assert.Equal(t, flag.Symbol, "XYZ")
	assert.Equal(t, flag.Type, shared.ManualExclude)
	assert.Equal(t, flag.At, time.UnixMilli(1717423805123).UTC())
	assert.False(t, flag.Cleared)
	assert.Equal(t, flag.Confidence, 0.9)
	assert.Equal(t, flag.Metadata, "halt pending news")

	// The symbol is required.
	missing := gjson.Parse(`{"type":"flag","flag_type":"manual_exclude"}`)
	_, err = parseFlagMessage(&missing)
	assert.Error(t, err)

	// Unknown flag types are rejected.
	unknown := gjson.Parse(`{"type":"flag","symbol":"XYZ","flag_type":"bogus"}`)
	_, err = parseFlagMessage(&unknown)
	assert.Error(t, err)
}

func TestHandleControlModelSwap(t *testing.T) {
	ctx := context.Background()

	base, err := model.ParseConfig([]byte(controlManifest))
	assert.NoError(t, err)

	rfx := &Reflex{
		models: model.NewStore(base),
		logger: &log.Logger,
	}

	// A global swap takes effect for all symbols.
	swapped := strings.Replace(controlManifest, `"version": "1.4.2"`,
		`"version": "2.0.0"`, 1)
	rfx.handleControl(ctx, fmt.Appendf(nil,
		`{"type":"model.swap","manifest":%s}`, swapped))
	assert.Equal(t, rfx.models.Current("XYZ").Version, "2.0.0")

	// A per-symbol swap shadows the global config for that symbol only.
	rfx.handleControl(ctx, fmt.Appendf(nil,
		`{"type":"model.swap","symbol":"ABC","manifest":%s}`, controlManifest))
	assert.Equal(t, rfx.models.Current("ABC").Version, "1.4.2")
	assert.Equal(t, rfx.models.Current("XYZ").Version, "2.0.0")

	// A malformed per-symbol manifest marks only that symbol invalid.
	rfx.handleControl(ctx, []byte(`{"type":"model.swap","symbol":"ABC",`+
		`"manifest":{"model_name":"broken"}}`))
	assert.Nil(t, rfx.models.Current("ABC"))
	assert.Equal(t, rfx.models.Current("XYZ").Version, "2.0.0")

	// A malformed global manifest leaves the current config in effect.
	rfx.handleControl(ctx, []byte(`{"type":"model.swap",`+
		`"manifest":{"model_name":"broken"}}`))
	assert.Equal(t, rfx.models.Current("XYZ").Version, "2.0.0")

	// Unknown control message types are ignored.
	rfx.handleControl(ctx, []byte(`{"type":"bogus"}`))
	assert.Equal(t, rfx.models.Current("XYZ").Version, "2.0.0")
}
