package database

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/reflexhq/reflex/metrics"
	"github.com/reflexhq/reflex/shared"
	rqlitehttp "github.com/rqlite/rqlite-go-http"
	"github.com/rs/zerolog"
)

const (
	// maxTriggerAttempts is the maximum number of write attempts for a
	// trade trigger before it is abandoned.
	maxTriggerAttempts = 3
	// retryBackoff is the base backoff between trigger write attempts.
	retryBackoff = time.Millisecond * 250

	// SQL statements.
	createTickTableSQL      = "CREATE TABLE IF NOT EXISTS tick_data (symbol TEXT, ts INTEGER, sip_ts INTEGER, price REAL, size REAL, exchange TEXT, conditions TEXT, tape TEXT, UNIQUE(symbol, ts, sip_ts))"
	createQuoteTableSQL     = "CREATE TABLE IF NOT EXISTS quote_data (symbol TEXT, ts INTEGER, bid_price REAL, bid_size REAL, ask_price REAL, ask_size REAL, PRIMARY KEY(symbol, ts))"
	createMinuteBarTableSQL = "CREATE TABLE IF NOT EXISTS minute_bars (symbol TEXT, ts INTEGER, open REAL, high REAL, low REAL, close REAL, volume REAL, PRIMARY KEY(symbol, ts))"
	createDailyBarTableSQL  = "CREATE TABLE IF NOT EXISTS daily_bars (symbol TEXT, ts INTEGER, open REAL, high REAL, low REAL, close REAL, volume REAL, PRIMARY KEY(symbol, ts))"
	createFlagTableSQL      = "CREATE TABLE IF NOT EXISTS evaluator_flags (symbol TEXT, ts INTEGER, flag_type TEXT, confidence REAL, metadata TEXT)"
	createTriggerTableSQL   = "CREATE TABLE IF NOT EXISTS trade_triggers (symbol TEXT, trigger_type TEXT, ts INTEGER, metadata TEXT)"
	persistTickSQL          = "INSERT OR IGNORE INTO tick_data(symbol, ts, sip_ts, price, size, exchange, conditions, tape) VALUES(?,?,?,?,?,?,?,?)"
	persistQuoteSQL         = "INSERT OR REPLACE INTO quote_data(symbol, ts, bid_price, bid_size, ask_price, ask_size) VALUES(?,?,?,?,?,?)"
	persistBarSQL           = "INSERT OR REPLACE INTO %s(symbol, ts, open, high, low, close, volume) VALUES(?,?,?,?,?,?,?)"
	persistFlagSQL          = "INSERT INTO evaluator_flags(symbol, ts, flag_type, confidence, metadata) VALUES(?,?,?,?,?)"
	persistTriggerSQL       = "INSERT INTO trade_triggers(symbol, trigger_type, ts, metadata) VALUES(?,?,?,?)"
)

// TriggerStorer defines the requirements for storing trade triggers.
type TriggerStorer interface {
	// PersistTrigger stores the provided signal as a trade trigger.
	PersistTrigger(ctx context.Context, signal *shared.Signal) error
}

// DatabaseConfig is the configuration for the database.
type DatabaseConfig struct {
	// Endpoint represents the database connection endpoint.
	Endpoint string
	// User is the database user.
	User string
	// Pass is the database user pass.
	Pass string
	// Logger is the database logger.
	Logger *zerolog.Logger
}

// Database represents the database connection. The core only appends;
// retention and rollups are the store's responsibility.
type Database struct {
	cfg    *DatabaseConfig
	client *rqlitehttp.Client
}

// Ensure the database implements the TriggerStorer interface.
var _ TriggerStorer = (*Database)(nil)

// NewDatabase initializes a new database connection.
func NewDatabase(ctx context.Context, cfg *DatabaseConfig) (*Database, error) {
	httpc := &http.Client{Timeout: time.Second * 5}
	client, err := rqlitehttp.NewClient(cfg.Endpoint, httpc)
	if err != nil {
		return nil, fmt.Errorf("creating database client: %w", err)
	}

	client.SetBasicAuth(cfg.User, cfg.Pass)

	db := &Database{
		cfg:    cfg,
		client: client,
	}

	err = db.bootstrap(ctx)
	if err != nil {
		return nil, fmt.Errorf("bootstrapping database: %w", err)
	}

	return db, nil
}

// bootstrap initializes the database.
func (db *Database) bootstrap(ctx context.Context) error {
	_, err := db.client.Execute(ctx, rqlitehttp.SQLStatements{
		{SQL: createTickTableSQL},
		{SQL: createQuoteTableSQL},
		{SQL: createMinuteBarTableSQL},
		{SQL: createDailyBarTableSQL},
		{SQL: createFlagTableSQL},
		{SQL: createTriggerTableSQL},
	}, &rqlitehttp.ExecuteOptions{
		Transaction: true,
		Timings:     true,
	})
	if err != nil {
		return err
	}

	return nil
}

// stringifyConditions stringifies the provided tick condition flags.
func stringifyConditions(conditions []int64) string {
	buf := make([]byte, 0, len(conditions)*3)
	for idx := range conditions {
		buf = fmt.Appendf(buf, "%d", conditions[idx])
		if idx < len(conditions)-1 {
			buf = append(buf, ',')
		}
	}

	return string(buf)
}

// PersistTick stores the provided tick to the database.
func (db *Database) PersistTick(ctx context.Context, tick *shared.Tick) error {
	_, err := db.client.Execute(ctx, rqlitehttp.SQLStatements{
		{
			SQL: persistTickSQL,
			PositionalParams: []any{tick.Symbol, tick.At.UnixNano(), tick.SIPAt.UnixNano(),
				tick.Price, tick.Size, tick.Exchange, stringifyConditions(tick.Conditions),
				tick.Tape},
		},
	}, &rqlitehttp.ExecuteOptions{Transaction: true, Timings: true})
	if err != nil {
		return fmt.Errorf("persisting tick: %w", err)
	}

	return nil
}

// PersistQuote stores the provided quote to the database.
func (db *Database) PersistQuote(ctx context.Context, quote *shared.Quote) error {
	_, err := db.client.Execute(ctx, rqlitehttp.SQLStatements{
		{
			SQL: persistQuoteSQL,
			PositionalParams: []any{quote.Symbol, quote.At.UnixNano(), quote.BidPrice,
				quote.BidSize, quote.AskPrice, quote.AskSize},
		},
	}, &rqlitehttp.ExecuteOptions{Transaction: true, Timings: true})
	if err != nil {
		return fmt.Errorf("persisting quote: %w", err)
	}

	return nil
}

// PersistBar stores the provided bar to the database.
func (db *Database) PersistBar(ctx context.Context, bar *shared.Bar) error {
	table := "minute_bars"
	if bar.Kind == shared.DailyBar {
		table = "daily_bars"
	}

	_, err := db.client.Execute(ctx, rqlitehttp.SQLStatements{
		{
			SQL: fmt.Sprintf(persistBarSQL, table),
			PositionalParams: []any{bar.Symbol, bar.Start.Unix(), bar.Open, bar.High,
				bar.Low, bar.Close, bar.Volume},
		},
	}, &rqlitehttp.ExecuteOptions{Transaction: true, Timings: true})
	if err != nil {
		return fmt.Errorf("persisting %s bar: %w", bar.Kind, err)
	}

	return nil
}

// PersistFlag stores the provided evaluator flag to the database.
func (db *Database) PersistFlag(ctx context.Context, flag *shared.Flag) error {
	_, err := db.client.Execute(ctx, rqlitehttp.SQLStatements{
		{
			SQL: persistFlagSQL,
			PositionalParams: []any{flag.Symbol, flag.At.Unix(), flag.Type.String(),
				flag.Confidence, flag.Metadata},
		},
	}, &rqlitehttp.ExecuteOptions{Transaction: true, Timings: true})
	if err != nil {
		return fmt.Errorf("persisting flag: %w", err)
	}

	return nil
}

// PersistTrigger stores the provided signal as a trade trigger. Trigger
// writes are critical and retried with bounded backoff before being
// abandoned.
func (db *Database) PersistTrigger(ctx context.Context, signal *shared.Signal) error {
	metadata := fmt.Sprintf("id=%s,model=%s,version=%s,price=%f,reasons=%s",
		signal.ID, signal.Model, signal.ModelVersion, signal.Price,
		shared.StringifyReasons(signal.Reasons))

	var err error
	for attempt := 1; attempt <= maxTriggerAttempts; attempt++ {
		_, err = db.client.Execute(ctx, rqlitehttp.SQLStatements{
			{
				SQL: persistTriggerSQL,
				PositionalParams: []any{signal.Symbol, signal.Kind.String(),
					signal.CreatedOn.Unix(), metadata},
			},
		}, &rqlitehttp.ExecuteOptions{Transaction: true, Timings: true})
		if err == nil {
			return nil
		}

		db.cfg.Logger.Error().Msgf("persisting trigger, attempt %d/%d: %v",
			attempt, maxTriggerAttempts, err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryBackoff * time.Duration(attempt)):
		}
	}

	metrics.PersistRetriesExhaustedTotal.WithLabelValues("trade_triggers").Inc()

	return fmt.Errorf("persisting trigger after %d attempts: %w", maxTriggerAttempts, err)
}
