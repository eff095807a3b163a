package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/reflexhq/reflex/metrics"
	"github.com/reflexhq/reflex/model"
	"github.com/reflexhq/reflex/position"
	"github.com/reflexhq/reflex/record"
	"github.com/reflexhq/reflex/shared"
)

const (
	// bufferSize is the default buffer size for channels.
	bufferSize = 64
	// maxWorkers is the maximum number of concurrent symbol evaluations.
	maxWorkers = 16
)

// EngineConfig represents the evaluation engine configuration.
type EngineConfig struct {
	// Symbols represents the collection of tracked symbols.
	Symbols []string
	// Snapshot derives the current snapshot for a symbol.
	Snapshot func(symbol string, now time.Time) (shared.Snapshot, error)
	// AdvanceState advances the readiness state of a symbol for the cycle.
	AdvanceState func(snap *shared.Snapshot, now time.Time, doNotTrade bool) (shared.SymbolState, error)
	// Models is the model configuration store.
	Models *model.Store
	// SendSignal relays the provided signal to downstream collaborators.
	SendSignal func(signal shared.Signal)
	// SendRecord relays the provided diagnostic record for appending.
	SendRecord func(rec record.Record)
	// Logger represents the application logger.
	Logger *zerolog.Logger
}

// inFlight tracks the at-most-one in-flight evaluation guard per symbol.
type inFlight struct {
	busy atomic.Bool
}

// Engine runs the cadence-driven model evaluation cycle. Each cycle spawns
// at most one unit of work per symbol; a symbol still evaluating when the
// next cycle fires is skipped and counted, never queued.
type Engine struct {
	cfg         *EngineConfig
	book        *position.Book
	flags       map[string]*shared.FlagSet
	flagsMtx    sync.RWMutex
	flagSignals chan shared.Flag
	guards      map[string]*inFlight
	workers     chan struct{}
	stopped     atomic.Bool
	emitClosed  atomic.Bool
	wg          sync.WaitGroup
}

// NewEngine initializes a new evaluation engine.
func NewEngine(cfg *EngineConfig) *Engine {
	flags := make(map[string]*shared.FlagSet, len(cfg.Symbols))
	guards := make(map[string]*inFlight, len(cfg.Symbols))
	for idx := range cfg.Symbols {
		flags[cfg.Symbols[idx]] = shared.NewFlagSet()
		guards[cfg.Symbols[idx]] = &inFlight{}
	}

	return &Engine{
		cfg:         cfg,
		book:        position.NewBook(),
		flags:       flags,
		flagSignals: make(chan shared.Flag, bufferSize),
		guards:      guards,
		workers:     make(chan struct{}, maxWorkers),
	}
}

// Book returns the engine's position book.
func (e *Engine) Book() *position.Book {
	return e.book
}

// SendFlag relays the provided exclusion flag for processing.
func (e *Engine) SendFlag(flag shared.Flag) {
	select {
	case e.flagSignals <- flag:
		// do nothing.
	default:
		e.cfg.Logger.Error().Msgf("flag channel at capacity: %d/%d",
			len(e.flagSignals), bufferSize)
	}
}

// handleFlag processes the provided exclusion flag.
func (e *Engine) handleFlag(flag *shared.Flag) {
	e.flagsMtx.RLock()
	set, ok := e.flags[flag.Symbol]
	e.flagsMtx.RUnlock()
	if !ok {
		e.cfg.Logger.Error().Msgf("no flag set found for symbol %s", flag.Symbol)
		return
	}

	set.Apply(*flag)
}

// veto returns the effective veto flag for the provided symbol, if any.
func (e *Engine) veto(symbol string) (shared.Flag, bool) {
	e.flagsMtx.RLock()
	set, ok := e.flags[symbol]
	e.flagsMtx.RUnlock()
	if !ok {
		return shared.Flag{}, false
	}

	return set.Veto()
}

// emit relays the provided signal downstream and records it. Signals from
// evaluations that outlive the stop grace period are dropped so nothing
// reaches downstream execution after the stop completes.
func (e *Engine) emit(signal shared.Signal) {
	if e.emitClosed.Load() {
		e.cfg.Logger.Error().Msgf("dropping %s signal for %s, engine stopped",
			signal.Kind, signal.Symbol)
		return
	}

	metrics.SignalsTotal.WithLabelValues(signal.Symbol, signal.Kind.String()).Inc()
	e.cfg.SendSignal(signal)
	e.cfg.SendRecord(record.NewSignalRecord(&signal))
}

// evaluateSymbol runs one evaluation cycle for the provided symbol. Errors
// are isolated per symbol: they are logged and recorded without affecting
// the evaluation of other symbols.
func (e *Engine) evaluateSymbol(symbol string, now time.Time) {
	snap, err := e.cfg.Snapshot(symbol, now)
	if err != nil {
		e.cfg.Logger.Error().Msgf("deriving snapshot for %s: %v", symbol, err)
		return
	}

	veto, vetoed := e.veto(symbol)
	doNotTrade := vetoed && veto.Type == shared.DoNotTrade

	symState, err := e.cfg.AdvanceState(&snap, now, doNotTrade)
	if err != nil {
		e.cfg.Logger.Error().Msgf("advancing state for %s: %v", symbol, err)
		return
	}

	if symState != shared.Hot {
		// WATCH and WARM symbols have snapshots computed for pre-warming
		// but generate no signals.
		e.cfg.SendRecord(record.NewDecisionRecord(&snap, "not evaluated", symState.String()))
		return
	}

	cfg := e.cfg.Models.Current(symbol)
	if cfg == nil {
		// The symbol stays HOT but unevaluated until its config is corrected.
		e.cfg.SendRecord(record.NewDecisionRecord(&snap, "skipped", "no valid model config"))
		e.cfg.Logger.Warn().Msgf("no valid model config for %s, skipping cycle", symbol)
		return
	}

	var vetoPtr *shared.Flag
	if vetoed {
		vetoPtr = &veto
	}

	pass, reason := model.Filter(&snap, cfg, vetoPtr)
	if !pass {
		e.cfg.SendRecord(record.NewDecisionRecord(&snap, "filtered", reason))
		return
	}

	pos, held := e.book.Position(symbol)
	if held {
		// Exit takes priority over scale-in: risk reduction before scale-in.
		fires, reasons := model.EvaluateExit(&snap, cfg, pos, now)
		if fires {
			signal := shared.NewSignal(shared.ExitSignal, snap, reasons, cfg.Name, cfg.Version, now)
			_, err := e.book.Close(&signal, cfg.Cooldown)
			if err != nil {
				e.cfg.SendRecord(record.NewDecisionRecord(&snap, "suppressed", err.Error()))
				return
			}

			e.emit(signal)
			return
		}

		fires, reasons = model.EvaluateAdd(&snap, cfg, pos)
		if fires {
			signal := shared.NewSignal(shared.AddSignal, snap, reasons, cfg.Name, cfg.Version, now)
			err := e.book.Add(&signal, cfg.MaxAdds, cfg.Cooldown)
			if err != nil {
				e.cfg.SendRecord(record.NewDecisionRecord(&snap, "suppressed", err.Error()))
				return
			}

			e.emit(signal)
			return
		}

		e.cfg.SendRecord(record.NewDecisionRecord(&snap, "held", "no exit or add condition met"))
		return
	}

	lastExit, _ := e.book.LastExit(symbol)
	fires, reasons := model.EvaluateEntry(&snap, cfg, lastExit, now)
	if fires {
		signal := shared.NewSignal(shared.EntrySignal, snap, reasons, cfg.Name, cfg.Version, now)
		_, err := e.book.Open(&signal, cfg.Cooldown)
		if err != nil {
			e.cfg.SendRecord(record.NewDecisionRecord(&snap, "suppressed", err.Error()))
			return
		}

		e.emit(signal)
		return
	}

	e.cfg.SendRecord(record.NewDecisionRecord(&snap, "flat", "no entry condition met"))
}

// Cycle runs one cadence cycle over all tracked symbols. Symbols with an
// evaluation still in flight are skipped and counted as missed cadences.
func (e *Engine) Cycle(now time.Time) {
	if e.stopped.Load() {
		return
	}

	for idx := range e.cfg.Symbols {
		symbol := e.cfg.Symbols[idx]

		guard := e.guards[symbol]
		if !guard.busy.CompareAndSwap(false, true) {
			metrics.MissedCadenceTotal.WithLabelValues(symbol).Inc()
			continue
		}

		e.workers <- struct{}{}
		e.wg.Add(1)
		go func(symbol string) {
			defer func() {
				guard.busy.Store(false)
				<-e.workers
				e.wg.Done()
			}()

			e.evaluateSymbol(symbol, now)
		}(symbol)
	}
}

// CycleSync runs one cadence cycle over all tracked symbols inline, in
// symbol order. Replay drives cycles through it so evaluation is serialized
// with ingestion and a recorded event sequence reproduces identical signals.
func (e *Engine) CycleSync(now time.Time) {
	if e.stopped.Load() {
		return
	}

	for idx := range e.cfg.Symbols {
		e.evaluateSymbol(e.cfg.Symbols[idx], now)
	}
}

// Stop halts new cadence cycles and waits for in-flight evaluations to
// complete within the provided grace period.
func (e *Engine) Stop(grace time.Duration) {
	e.stopped.Store(true)

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(grace):
		e.cfg.Logger.Error().Msg("grace deadline reached with evaluations in flight")
	}

	e.emitClosed.Store(true)
}

// Run manages the lifecycle processes of the engine.
func (e *Engine) Run(ctx context.Context) {
	for {
		select {
		case flag := <-e.flagSignals:
			e.handleFlag(&flag)

		case <-ctx.Done():
			return
		}
	}
}
