package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/rs/zerolog/pkgerrors"
	"github.com/tidwall/gjson"

	"github.com/reflexhq/reflex/bars"
	"github.com/reflexhq/reflex/bridge"
	"github.com/reflexhq/reflex/database"
	"github.com/reflexhq/reflex/engine"
	"github.com/reflexhq/reflex/feed"
	"github.com/reflexhq/reflex/metrics"
	"github.com/reflexhq/reflex/model"
	"github.com/reflexhq/reflex/record"
	"github.com/reflexhq/reflex/shared"
	"github.com/reflexhq/reflex/snapshot"
	"github.com/reflexhq/reflex/state"
)

const (
	// bufferSize is the default buffer size for channels.
	bufferSize = 256
	// defaultCadence is the default evaluation cadence.
	defaultCadence = time.Millisecond * 500
	// defaultGracePeriod is the default shutdown grace period.
	defaultGracePeriod = time.Second * 5
	// defaultLookback is the default rolling window duration.
	defaultLookback = time.Second * 5
	// defaultQuoteFreshness is the default maximum quote age.
	defaultQuoteFreshness = time.Second * 2
	// defaultStaleTimeout is the default feed staleness timeout.
	defaultStaleTimeout = time.Second * 10
	// defaultColdTimeout is the default prolonged silence timeout.
	defaultColdTimeout = time.Minute * 5
)

// ReflexConfig represents the configuration struct for the reflex service.
type ReflexConfig struct {
	// Symbols represents the tracked symbols.
	Symbols []string
	// FeedURL is the websocket feed endpoint.
	FeedURL string
	// FeedAPIKey is the feed API key.
	FeedAPIKey string
	// ModelManifest is the filepath to the model manifest.
	ModelManifest string
	// DiagnosticsFilepath is the filepath for the diagnostic record log.
	DiagnosticsFilepath string
	// DBEndpoint represents the database connection endpoint.
	DBEndpoint string
	// DBUser is the database user.
	DBUser string
	// DBPass is the database user pass.
	DBPass string
	// RedisAddr is the redis broker address.
	RedisAddr string
	// RedisPass is the redis broker pass.
	RedisPass string
	// MetricsAddr is the metrics and liveness listen address.
	MetricsAddr string
	// Replay is the replay flag.
	Replay bool
	// ReplayFilepath is the filepath to the recorded replay data.
	ReplayFilepath string
	// Cancel is the context cancellation function.
	Cancel context.CancelFunc
}

// Validate asserts the config sane inputs.
func (cfg *ReflexConfig) Validate() error {
	var errs error

	if len(cfg.Symbols) == 0 {
		errs = errors.Join(errs, fmt.Errorf("no symbols provided for reflex service"))
	}
	if cfg.ModelManifest == "" {
		errs = errors.Join(errs, fmt.Errorf("model manifest cannot be an empty string"))
	}
	if cfg.Cancel == nil {
		errs = errors.Join(errs, fmt.Errorf("context cancellation function cannot be nil"))
	}
	switch cfg.Replay {
	case true:
		if cfg.ReplayFilepath == "" {
			errs = errors.Join(errs, fmt.Errorf("replay filepath cannot be an empty string"))
		}
	case false:
		if cfg.FeedURL == "" {
			errs = errors.Join(errs, fmt.Errorf("feed url cannot be an empty string"))
		}
		if cfg.FeedAPIKey == "" {
			errs = errors.Join(errs, fmt.Errorf("feed api key cannot be an empty string"))
		}
	}

	return errs
}

// Reflex represents the market evaluation service.
type Reflex struct {
	cfg          *ReflexConfig
	builder      *snapshot.Builder
	machine      *state.Machine
	models       *model.Store
	evalEngine   *engine.Engine
	recorder     *record.Recorder
	db           *database.Database
	stateBridge  *bridge.Bridge
	barBuilder   *bars.Builder
	feedClient   *feed.Client
	replayFeed   *feed.Replay
	jobScheduler *gocron.Scheduler
	tickWrites   chan shared.Tick
	quoteWrites  chan shared.Quote
	logger       *zerolog.Logger
	wg           sync.WaitGroup
}

// NewReflex initializes a new reflex service.
func NewReflex(ctx context.Context, cfg *ReflexConfig) (*Reflex, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("validating reflex config: %w", err)
	}

	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack
	logger := log.With().Str("service", "reflex").Logger()

	rfx := &Reflex{
		cfg:         cfg,
		tickWrites:  make(chan shared.Tick, bufferSize),
		quoteWrites: make(chan shared.Quote, bufferSize),
		logger:      &logger,
	}

	if cfg.DiagnosticsFilepath == "" {
		cfg.DiagnosticsFilepath = "reflex_diagnostics.jsonl"
	}

	recorderLogger := logger.With().Str("component", "recorder").Logger()
	rfx.recorder, err = record.NewRecorder(&record.RecorderConfig{
		FilePath: cfg.DiagnosticsFilepath,
		Logger:   &recorderLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating recorder: %w", err)
	}

	dbLogger := logger.With().Str("component", "database").Logger()
	rfx.db, err = database.NewDatabase(ctx, &database.DatabaseConfig{
		Endpoint: cfg.DBEndpoint,
		User:     cfg.DBUser,
		Pass:     cfg.DBPass,
		Logger:   &dbLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating database: %w", err)
	}

	bridgeLogger := logger.With().Str("component", "bridge").Logger()
	rfx.stateBridge = bridge.NewBridge(&bridge.BridgeConfig{
		RedisAddr: cfg.RedisAddr,
		RedisPass: cfg.RedisPass,
		HandleControl: func(payload []byte) {
			rfx.handleControl(ctx, payload)
		},
		Logger: &bridgeLogger,
	})

	recordQualityFunc := func(symbol string, issue string) {
		rfx.recorder.SendRecord(record.NewQualityRecord(symbol, time.Now().UTC(), issue))
	}

	builderLogger := logger.With().Str("component", "snapshotbuilder").Logger()
	rfx.builder, err = snapshot.NewBuilder(&snapshot.BuilderConfig{
		Symbols:        cfg.Symbols,
		Lookback:       defaultLookback,
		QuoteFreshness: defaultQuoteFreshness,
		RecordQuality:  recordQualityFunc,
		Logger:         &builderLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating snapshot builder: %w", err)
	}

	machineLogger := logger.With().Str("component", "statemachine").Logger()
	rfx.machine = state.NewMachine(&state.MachineConfig{
		Symbols:      cfg.Symbols,
		StaleTimeout: defaultStaleTimeout,
		ColdTimeout:  defaultColdTimeout,
		NotifyStateChange: func(change shared.StateChange) {
			rfx.stateBridge.PublishStateChange(change)
		},
		Logger: &machineLogger,
	})

	globalModel, err := model.LoadConfig(cfg.ModelManifest)
	if err != nil {
		return nil, fmt.Errorf("loading model manifest: %w", err)
	}
	rfx.models = model.NewStore(globalModel)

	sendSignalFunc := func(signal shared.Signal) {
		rfx.stateBridge.PublishSignal(&signal)

		// Trigger persistence is critical but happens outside the
		// per-symbol critical section.
		go func() {
			err := rfx.db.PersistTrigger(ctx, &signal)
			if err != nil {
				rfx.logger.Error().Msgf("persisting trigger: %v", err)
			}

			signal.Status <- shared.Processed
		}()
	}

	engineLogger := logger.With().Str("component", "engine").Logger()
	rfx.evalEngine = engine.NewEngine(&engine.EngineConfig{
		Symbols:      cfg.Symbols,
		Snapshot:     rfx.builder.Snapshot,
		AdvanceState: rfx.machine.Advance,
		Models:       rfx.models,
		SendSignal:   sendSignalFunc,
		SendRecord:   rfx.recorder.SendRecord,
		Logger:       &engineLogger,
	})

	barsLogger := logger.With().Str("component", "barbuilder").Logger()
	rfx.barBuilder = bars.NewBuilder(&bars.BuilderConfig{
		PersistBar: func(bar shared.Bar) {
			go func() {
				err := rfx.db.PersistBar(ctx, &bar)
				if err != nil {
					rfx.logger.Error().Msgf("persisting bar: %v", err)
				}
			}()
		},
		Logger: &barsLogger,
	})

	switch cfg.Replay {
	case true:
		// Replay applies events synchronously and drives cycles from the
		// recorded timestamps so two replays of the same data emit identical
		// signals.
		replayLogger := logger.With().Str("component", "replayfeed").Logger()
		rfx.replayFeed, err = feed.NewReplay(&feed.ReplayConfig{
			FilePath: cfg.ReplayFilepath,
			Cadence:  defaultCadence,
			OnCycle: func(now time.Time) {
				rfx.evalEngine.CycleSync(now)
			},
			SendTick: func(tick shared.Tick) {
				rfx.builder.ApplyTick(tick)
				rfx.barBuilder.SendTick(tick)
				rfx.queueTickWrite(tick)
			},
			SendQuote: func(quote shared.Quote) {
				rfx.builder.ApplyQuote(quote)
				rfx.queueQuoteWrite(quote)
			},
			Logger: &replayLogger,
		})
		if err != nil {
			return nil, fmt.Errorf("creating replay feed: %w", err)
		}

	case false:
		feedLogger := logger.With().Str("component", "feedclient").Logger()
		rfx.feedClient, err = feed.NewClient(&feed.ClientConfig{
			URL:     cfg.FeedURL,
			APIKey:  cfg.FeedAPIKey,
			Symbols: cfg.Symbols,
			SendTick: func(tick shared.Tick) {
				rfx.builder.SendTick(tick)
				rfx.barBuilder.SendTick(tick)
				rfx.queueTickWrite(tick)
			},
			SendQuote: func(quote shared.Quote) {
				rfx.builder.SendQuote(quote)
				rfx.queueQuoteWrite(quote)
			},
			Logger: &feedLogger,
		})
		if err != nil {
			return nil, fmt.Errorf("creating feed client: %w", err)
		}
	}

	rfx.jobScheduler = gocron.NewScheduler(time.UTC)

	return rfx, nil
}

// queueTickWrite queues the provided tick for persistence.
func (r *Reflex) queueTickWrite(tick shared.Tick) {
	select {
	case r.tickWrites <- tick:
		// do nothing.
	default:
		r.logger.Error().Msgf("tick write channel at capacity: %d/%d",
			len(r.tickWrites), bufferSize)
	}
}

// queueQuoteWrite queues the provided quote for persistence.
func (r *Reflex) queueQuoteWrite(quote shared.Quote) {
	select {
	case r.quoteWrites <- quote:
		// do nothing.
	default:
		r.logger.Error().Msgf("quote write channel at capacity: %d/%d",
			len(r.quoteWrites), bufferSize)
	}
}

// parseFlagMessage parses an exclusion flag from the provided control
// message.
func parseFlagMessage(msg *gjson.Result) (shared.Flag, error) {
	symbol := msg.Get("symbol").String()
	if symbol == "" {
		return shared.Flag{}, fmt.Errorf("control flag missing symbol")
	}

	flagType, err := shared.ParseFlagType(msg.Get("flag_type").String())
	if err != nil {
		return shared.Flag{}, fmt.Errorf("parsing control flag: %w", err)
	}

	return shared.Flag{
		Symbol:     symbol,
		Type:       flagType,
		At:         time.UnixMilli(msg.Get("at").Int()).UTC(),
		Cleared:    msg.Get("cleared").Bool(),
		Confidence: msg.Get("confidence").Float(),
		Metadata:   msg.Get("metadata").String(),
	}, nil
}

// handleModelSwap applies a model swap from the provided control message.
// A malformed per-symbol manifest marks only that symbol invalid; a
// malformed global manifest leaves the current config in effect.
func (r *Reflex) handleModelSwap(msg *gjson.Result) {
	symbol := msg.Get("symbol").String()

	cfg, err := model.ParseConfig([]byte(msg.Get("manifest").Raw))
	if err != nil {
		if symbol != "" {
			r.models.SwapSymbol(symbol, nil)
		}
		r.logger.Error().Msgf("parsing control manifest: %v", err)
		return
	}

	if symbol != "" {
		r.models.SwapSymbol(symbol, cfg)
		r.logger.Info().Msgf("model swapped for %s: %s v%s", symbol, cfg.Name, cfg.Version)
		return
	}

	r.SwapModel(cfg)
}

// handleControl processes the provided inbound control payload.
func (r *Reflex) handleControl(ctx context.Context, payload []byte) {
	msg := gjson.ParseBytes(payload)

	switch msg.Get("type").String() {
	case "flag":
		flag, err := parseFlagMessage(&msg)
		if err != nil {
			r.logger.Error().Msgf("handling control flag: %v", err)
			return
		}
		r.SendFlag(ctx, flag)

	case "model.swap":
		r.handleModelSwap(&msg)

	default:
		r.logger.Error().Msgf("unknown control message type: %s", msg.Get("type").String())
	}
}

// SwapModel hot-swaps the global model configuration. The new version takes
// effect on the next cadence cycle.
func (r *Reflex) SwapModel(cfg *model.Config) {
	r.models.SwapGlobal(cfg)
	r.logger.Info().Msgf("model swapped: %s v%s", cfg.Name, cfg.Version)
}

// SendFlag relays the provided exclusion flag to the engine and persists it.
func (r *Reflex) SendFlag(ctx context.Context, flag shared.Flag) {
	r.evalEngine.SendFlag(flag)

	go func() {
		err := r.db.PersistFlag(ctx, &flag)
		if err != nil {
			r.logger.Error().Msgf("persisting flag: %v", err)
		}
	}()
}

// handlePersistence drains the tick and quote write queues. Tick and quote
// persistence is best-effort and detached from the evaluation path.
func (r *Reflex) handlePersistence(ctx context.Context) {
	for {
		select {
		case tick := <-r.tickWrites:
			err := r.db.PersistTick(ctx, &tick)
			if err != nil {
				r.logger.Error().Msgf("persisting tick: %v", err)
			}

		case quote := <-r.quoteWrites:
			err := r.db.PersistQuote(ctx, &quote)
			if err != nil {
				r.logger.Error().Msgf("persisting quote: %v", err)
			}

		case <-ctx.Done():
			return
		}
	}
}

// Run manages the lifecycle processes of the reflex service.
func (r *Reflex) Run(ctx context.Context) {
	if r.cfg.MetricsAddr != "" {
		metrics.Serve(r.cfg.MetricsAddr)
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.builder.Run(ctx)
	}()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.evalEngine.Run(ctx)
	}()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.recorder.Run(ctx)
	}()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.stateBridge.Run(ctx)
	}()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.barBuilder.Run(ctx)
	}()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.handlePersistence(ctx)
	}()

	switch {
	case r.replayFeed != nil:
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.replayFeed.Run(ctx)
		}()

	case r.feedClient != nil:
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.feedClient.Run(ctx)
		}()
	}

	// In replay mode the recorded timestamps drive the cycles instead of the
	// wall clock.
	if r.feedClient != nil {
		_, err := r.jobScheduler.Every(defaultCadence).Do(func() {
			r.evalEngine.Cycle(time.Now().UTC())
		})
		if err != nil {
			r.logger.Error().Msgf("scheduling cadence cycle: %v", err)
			r.cfg.Cancel()
		}
	}

	_, err := r.jobScheduler.Every(1).Day().At("00:00").Do(func() {
		r.barBuilder.FlushDaily()
	})
	if err != nil {
		r.logger.Error().Msgf("scheduling daily bar flush: %v", err)
		r.cfg.Cancel()
	}

	r.jobScheduler.StartAsync()

	<-ctx.Done()

	r.jobScheduler.Stop()
	r.evalEngine.Stop(defaultGracePeriod)
	r.wg.Wait()
}
