package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"breakout-trading-bot/internal/engine"

	"github.com/gin-gonic/gin"
)

// Webhook payloads come from alerting platforms that each invent their own
// field names and casing. Normalization is best effort: whatever can be
// extracted is forwarded, and the endpoint always acknowledges so the
// upstream platform never disables the alert for "failures".

var (
	symbolKeys = []string{"symbol", "ticker", "instrument", "s"}
	sideKeys   = []string{"side", "action", "order_action", "direction"}
	intentKeys = []string{"intent", "type", "order_type", "signal"}
	stopKeys   = []string{"stop_price", "stopprice", "stop", "sl", "stop_loss", "price"}
)

func (s *Server) handleWebhook(c *gin.Context) {
	if s.config.WebhookSecret != "" {
		if c.GetHeader("X-Webhook-Secret") != s.config.WebhookSecret {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid webhook secret"})
			return
		}
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 64*1024))
	if err != nil || len(body) == 0 {
		c.JSON(http.StatusOK, gin.H{"status": "ignored", "reason": "empty body"})
		return
	}

	sig, ok := parseSignalPayload(body)
	if !ok {
		s.logger.Warn("webhook payload not recognized", "body", truncate(string(body), 256))
		c.JSON(http.StatusOK, gin.H{"status": "ignored", "reason": "unrecognized payload"})
		return
	}

	s.logger.Info("webhook signal received",
		"symbol", sig.Symbol, "side", sig.Side, "intent", sig.Intent)
	s.engineAPI.IngestSignal(sig)
	s.eventBus.PublishSignalReceived(sig.Symbol, sig.Side, floatOrZero(sig.StopPrice))

	c.JSON(http.StatusOK, gin.H{"status": "accepted"})
}

// parseSignalPayload normalizes a loosely-typed webhook body into a Signal.
// JSON objects are matched by case-insensitive key; anything else falls back
// to free-text extraction.
func parseSignalPayload(body []byte) (engine.Signal, bool) {
	var raw map[string]interface{}
	if err := json.Unmarshal(body, &raw); err == nil {
		return signalFromMap(raw)
	}
	return signalFromText(string(body))
}

func signalFromMap(raw map[string]interface{}) (engine.Signal, bool) {
	// Case-insensitive key lookup
	lowered := make(map[string]interface{}, len(raw))
	for k, v := range raw {
		lowered[strings.ToLower(k)] = v
	}

	sig := engine.Signal{
		Symbol: stringField(lowered, symbolKeys),
		Side:   stringField(lowered, sideKeys),
		Intent: stringField(lowered, intentKeys),
	}
	if sig.Symbol == "" {
		return engine.Signal{}, false
	}

	for _, key := range stopKeys {
		if v, ok := lowered[key]; ok {
			if price, ok := numericValue(v); ok {
				sig.StopPrice = &price
				break
			}
		}
	}

	return sig, true
}

// signalFromText handles plain-text alerts like "BUY BTCUSDT 43000"
func signalFromText(text string) (engine.Signal, bool) {
	fields := strings.Fields(text)
	if len(fields) < 2 {
		return engine.Signal{}, false
	}

	sig := engine.Signal{}
	for _, field := range fields {
		upper := strings.ToUpper(field)
		switch upper {
		case "BUY", "SELL", "LONG", "SHORT":
			if sig.Side == "" {
				sig.Side = upper
			}
			continue
		}
		if price, err := strconv.ParseFloat(field, 64); err == nil {
			if sig.StopPrice == nil {
				sig.StopPrice = &price
			}
			continue
		}
		if sig.Symbol == "" {
			sig.Symbol = strings.ToUpper(field)
		}
	}

	if sig.Symbol == "" || sig.Side == "" {
		return engine.Signal{}, false
	}
	return sig, true
}

func stringField(m map[string]interface{}, keys []string) string {
	for _, key := range keys {
		if v, ok := m[key]; ok {
			if s, ok := v.(string); ok && s != "" {
				return strings.TrimSpace(s)
			}
		}
	}
	return ""
}

// numericValue accepts both JSON numbers and numeric strings
func numericValue(v interface{}) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(val), 64); err == nil {
			return f, true
		}
	case json.Number:
		if f, err := val.Float64(); err == nil {
			return f, true
		}
	}
	return 0, false
}

func floatOrZero(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
