package feed

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/reflexhq/reflex/shared"
)

const (
	// dialTimeout bounds a websocket dial attempt.
	dialTimeout = time.Second * 10
	// maxReconnectBackoff caps the reconnect backoff.
	maxReconnectBackoff = time.Second * 30
)

// ClientConfig represents the feed client configuration.
type ClientConfig struct {
	// URL is the websocket feed endpoint.
	URL string
	// APIKey is the feed API key.
	APIKey string
	// Symbols represents the collection of tracked symbols.
	Symbols []string
	// SendTick relays the provided tick for processing.
	SendTick func(tick shared.Tick)
	// SendQuote relays the provided quote for processing.
	SendQuote func(quote shared.Quote)
	// Logger represents the application logger.
	Logger *zerolog.Logger
}

// Client streams tick and quote events from the transport collaborator over
// a websocket subscription. Delivery is at-least-once; duplicate and
// out-of-order events are handled downstream by feed sequence numbers.
type Client struct {
	cfg *ClientConfig
}

// NewClient initializes a new feed client.
func NewClient(cfg *ClientConfig) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("feed url cannot be an empty string")
	}
	if len(cfg.Symbols) == 0 {
		return nil, fmt.Errorf("no symbols provided for feed client")
	}

	return &Client{cfg: cfg}, nil
}

// subscribe authenticates the connection and subscribes to trade and quote
// streams for the tracked symbols.
func (c *Client) subscribe(conn *websocket.Conn) error {
	auth := fmt.Sprintf(`{"action":"auth","params":"%s"}`, c.cfg.APIKey)
	err := conn.WriteMessage(websocket.TextMessage, []byte(auth))
	if err != nil {
		return fmt.Errorf("authenticating feed: %w", err)
	}

	streams := make([]string, 0, len(c.cfg.Symbols)*2)
	for idx := range c.cfg.Symbols {
		streams = append(streams, fmt.Sprintf("T.%s", c.cfg.Symbols[idx]),
			fmt.Sprintf("Q.%s", c.cfg.Symbols[idx]))
	}

	sub := fmt.Sprintf(`{"action":"subscribe","params":"%s"}`, strings.Join(streams, ","))
	err = conn.WriteMessage(websocket.TextMessage, []byte(sub))
	if err != nil {
		return fmt.Errorf("subscribing to feed: %w", err)
	}

	return nil
}

// handleMessage parses and routes the events in the provided feed message.
func (c *Client) handleMessage(message []byte) {
	events := gjson.ParseBytes(message).Array()
	for idx := range events {
		event := events[idx]

		switch event.Get("ev").String() {
		case tradeEvent:
			tick, err := ParseTick(&event)
			if err != nil {
				c.cfg.Logger.Error().Msgf("parsing trade event: %v", err)
				continue
			}
			c.cfg.SendTick(tick)

		case quoteEvent:
			quote, err := ParseQuote(&event)
			if err != nil {
				c.cfg.Logger.Error().Msgf("parsing quote event: %v", err)
				continue
			}
			c.cfg.SendQuote(quote)

		default:
			// status and unrecognized events are ignored.
		}
	}
}

// stream connects to the feed and processes messages until the connection
// fails or the context is cancelled.
func (c *Client) stream(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dialing feed: %w", err)
	}
	defer conn.Close()

	err = c.subscribe(conn)
	if err != nil {
		return err
	}

	c.cfg.Logger.Info().Msgf("feed connected, %d symbols subscribed", len(c.cfg.Symbols))

	// Close the connection when the context is cancelled to unblock the
	// read loop.
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("reading feed message: %w", err)
		}

		c.handleMessage(message)
	}
}

// Run manages the lifecycle processes of the feed client, reconnecting with
// backoff on connection failures.
func (c *Client) Run(ctx context.Context) {
	backoff := time.Second

	for {
		err := c.stream(ctx)

		select {
		case <-ctx.Done():
			return
		default:
		}

		c.cfg.Logger.Error().Msgf("feed stream interrupted, reconnecting in %s: %v",
			backoff, err)

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}

		backoff *= 2
		if backoff > maxReconnectBackoff {
			backoff = maxReconnectBackoff
		}
	}
}
