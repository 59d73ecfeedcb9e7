// Package executor dispatches real-world order executions for promoted
// live trades. Venue routing is a static policy: LONG trades go to the
// primary venue, SHORT trades to the secondary. The engine treats every
// call as fire-and-forget; a failed execution never rolls back its state.
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"breakout-trading-bot/config"
	"breakout-trading-bot/internal/engine"

	"github.com/rs/zerolog"
)

// executionPayload is the wire shape sent to a venue
type executionPayload struct {
	Kind           string  `json:"kind"` // ENTRY or EXIT
	Symbol         string  `json:"symbol"`
	ReferencePrice float64 `json:"reference_price"`
	Direction      string  `json:"direction"`
	SentAt         int64   `json:"sent_at"`
}

// VenueClient posts execution notifications to per-direction venue URLs
type VenueClient struct {
	longVenueURL  string
	shortVenueURL string
	httpClient    *http.Client
	logger        zerolog.Logger
}

// NewVenueClient creates an execution client from config
func NewVenueClient(cfg config.ExecutorConfig, logger zerolog.Logger) *VenueClient {
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &VenueClient{
		longVenueURL:  cfg.LongVenueURL,
		shortVenueURL: cfg.ShortVenueURL,
		httpClient:    &http.Client{Timeout: timeout},
		logger:        logger.With().Str("component", "executor").Logger(),
	}
}

// NotifyExecution posts one ENTRY or EXIT to the venue for the direction
func (c *VenueClient) NotifyExecution(ctx context.Context, kind engine.ExecutionKind, symbol string, referencePrice float64, direction engine.Direction) error {
	url := c.venueFor(direction)
	if url == "" {
		c.logger.Warn().
			Str("direction", string(direction)).
			Msg("no venue configured for direction, execution skipped")
		return nil
	}

	payload := executionPayload{
		Kind:           string(kind),
		Symbol:         symbol,
		ReferencePrice: referencePrice,
		Direction:      string(direction),
		SentAt:         time.Now().UnixMilli(),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal execution payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build execution request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execution request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("venue returned status %d", resp.StatusCode)
	}

	c.logger.Info().
		Str("kind", string(kind)).
		Str("symbol", symbol).
		Str("direction", string(direction)).
		Float64("reference_price", referencePrice).
		Msg("execution dispatched")
	return nil
}

func (c *VenueClient) venueFor(direction engine.Direction) string {
	if direction == engine.DirectionLong {
		return c.longVenueURL
	}
	return c.shortVenueURL
}
