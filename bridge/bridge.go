package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/reflexhq/reflex/shared"
	"github.com/rs/zerolog"
)

const (
	// bufferSize is the default buffer size for channels.
	bufferSize = 128
	// publishTimeout bounds a single publish attempt.
	publishTimeout = time.Second * 2

	// stateChannelPrefix is the per-symbol channel prefix for state changes.
	stateChannelPrefix = "reflex:state:"
	// signalChannelPrefix is the per-symbol channel prefix for signals.
	signalChannelPrefix = "reflex:signals:"
	// controlChannel is the inbound channel for flags and model swaps.
	controlChannel = "reflex:control"
)

// message represents an outbound bridge message.
type message struct {
	channel string
	payload []byte
}

// BridgeConfig represents the state-change bridge configuration.
type BridgeConfig struct {
	// RedisAddr is the redis broker address.
	RedisAddr string
	// RedisPass is the redis broker pass.
	RedisPass string
	// RedisDB is the redis database number.
	RedisDB int
	// HandleControl processes an inbound control payload.
	HandleControl func(payload []byte)
	// Logger represents the application logger.
	Logger *zerolog.Logger
}

// Bridge publishes symbol state transitions and signals on per-symbol broker
// channels for the dashboard and downstream execution. Publishing never
// blocks the decision path: messages are queued and dropped with a log when
// the queue is full, and subscriber acknowledgment is never awaited.
type Bridge struct {
	cfg      *BridgeConfig
	client   *redis.Client
	messages chan message
}

// NewBridge initializes a new state-change bridge.
func NewBridge(cfg *BridgeConfig) *Bridge {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPass,
		DB:       cfg.RedisDB,
	})

	return &Bridge{
		cfg:      cfg,
		client:   client,
		messages: make(chan message, bufferSize),
	}
}

// send queues the provided message for publishing.
func (b *Bridge) send(msg message) {
	select {
	case b.messages <- msg:
		// do nothing.
	default:
		b.cfg.Logger.Error().Msgf("bridge message channel at capacity: %d/%d",
			len(b.messages), bufferSize)
	}
}

// PublishStateChange queues the provided state change for publishing.
func (b *Bridge) PublishStateChange(change shared.StateChange) {
	payload, err := json.Marshal(struct {
		Type   string    `json:"type"`
		Symbol string    `json:"symbol"`
		From   string    `json:"from"`
		To     string    `json:"to"`
		At     time.Time `json:"at"`
	}{
		Type:   "state.change",
		Symbol: change.Symbol,
		From:   change.From.String(),
		To:     change.To.String(),
		At:     change.At,
	})
	if err != nil {
		b.cfg.Logger.Error().Msgf("marshalling state change: %v", err)
		return
	}

	b.send(message{
		channel: fmt.Sprintf("%s%s", stateChannelPrefix, change.Symbol),
		payload: payload,
	})
}

// PublishSignal queues the provided signal for publishing.
func (b *Bridge) PublishSignal(signal *shared.Signal) {
	payload, err := json.Marshal(struct {
		Type         string    `json:"type"`
		ID           string    `json:"id"`
		Symbol       string    `json:"symbol"`
		Price        float64   `json:"price"`
		Reasons      string    `json:"reasons"`
		Model        string    `json:"model"`
		ModelVersion string    `json:"model_version"`
		At           time.Time `json:"at"`
	}{
		Type:         fmt.Sprintf("signal.%s", signal.Kind),
		ID:           signal.ID,
		Symbol:       signal.Symbol,
		Price:        signal.Price,
		Reasons:      shared.StringifyReasons(signal.Reasons),
		Model:        signal.Model,
		ModelVersion: signal.ModelVersion,
		At:           signal.CreatedOn,
	})
	if err != nil {
		b.cfg.Logger.Error().Msgf("marshalling signal: %v", err)
		return
	}

	b.send(message{
		channel: fmt.Sprintf("%s%s", signalChannelPrefix, signal.Symbol),
		payload: payload,
	})
}

// handleMessage publishes the provided message to the broker.
func (b *Bridge) handleMessage(msg *message) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	err := b.client.Publish(ctx, msg.channel, msg.payload).Err()
	if err != nil {
		b.cfg.Logger.Error().Msgf("publishing to %s: %v", msg.channel, err)
	}
}

// subscribeControl consumes inbound control messages and relays them for
// processing.
func (b *Bridge) subscribeControl(ctx context.Context) {
	sub := b.client.Subscribe(ctx, controlChannel)
	defer sub.Close()

	messages := sub.Channel()
	for {
		select {
		case msg, ok := <-messages:
			if !ok {
				return
			}
			b.cfg.HandleControl([]byte(msg.Payload))

		case <-ctx.Done():
			return
		}
	}
}

// Run manages the lifecycle processes of the bridge.
func (b *Bridge) Run(ctx context.Context) {
	if b.cfg.HandleControl != nil {
		go b.subscribeControl(ctx)
	}

	for {
		select {
		case msg := <-b.messages:
			b.handleMessage(&msg)

		case <-ctx.Done():
			_ = b.client.Close()
			return
		}
	}
}
