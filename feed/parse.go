package feed

import (
	"fmt"
	"time"

	"github.com/reflexhq/reflex/shared"
	"github.com/tidwall/gjson"
)

// Feed event types.
const (
	tradeEvent = "T"
	quoteEvent = "Q"
)

// ParseTick parses a tick from the provided feed event.
func ParseTick(data *gjson.Result) (shared.Tick, error) {
	symbol := data.Get("sym").String()
	if symbol == "" {
		return shared.Tick{}, fmt.Errorf("trade event missing symbol")
	}

	tick := shared.Tick{
		Symbol:   symbol,
		At:       time.UnixMilli(data.Get("t").Int()).UTC(),
		SIPAt:    time.UnixMilli(data.Get("y").Int()).UTC(),
		Sequence: data.Get("q").Uint(),
		Price:    data.Get("p").Float(),
		Size:     data.Get("s").Float(),
		Exchange: data.Get("x").String(),
		Tape:     data.Get("z").String(),
	}

	conditions := data.Get("c").Array()
	for idx := range conditions {
		tick.Conditions = append(tick.Conditions, conditions[idx].Int())
	}

	return tick, nil
}

// ParseQuote parses a quote from the provided feed event.
func ParseQuote(data *gjson.Result) (shared.Quote, error) {
	symbol := data.Get("sym").String()
	if symbol == "" {
		return shared.Quote{}, fmt.Errorf("quote event missing symbol")
	}

	return shared.Quote{
		Symbol:   symbol,
		At:       time.UnixMilli(data.Get("t").Int()).UTC(),
		Sequence: data.Get("q").Uint(),
		BidPrice: data.Get("bp").Float(),
		BidSize:  data.Get("bs").Float(),
		AskPrice: data.Get("ap").Float(),
		AskSize:  data.Get("as").Float(),
		Exchange: data.Get("x").String(),
	}, nil
}
