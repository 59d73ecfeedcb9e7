// Package feed streams market ticks from WebSocket sources into the engine.
// Each configured URL gets its own stream with independent reconnection, so
// one flaky source never stalls the others.
package feed

import (
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"time"

	"breakout-trading-bot/internal/logging"

	"github.com/gorilla/websocket"
)

// TickHandler receives parsed price ticks. The engine satisfies this.
type TickHandler interface {
	IngestTick(symbol string, price float64)
}

// tickMessage covers the trade-event shapes the upstream feeds emit.
// Prices arrive as strings on some venues and numbers on others.
type tickMessage struct {
	EventType string          `json:"e"`
	Symbol    string          `json:"s"`
	Price     json.RawMessage `json:"p"`
	LastPrice json.RawMessage `json:"c"`
}

// Stream is one WebSocket tick source
type Stream struct {
	url     string
	handler TickHandler
	logger  *logging.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	isRunning bool
	stopChan  chan struct{}
	wg        sync.WaitGroup
}

// NewStream creates a tick stream for one source URL
func NewStream(url string, handler TickHandler, logger *logging.Logger) *Stream {
	if logger == nil {
		logger = logging.Default()
	}
	return &Stream{
		url:     url,
		handler: handler,
		logger:  logger.WithComponent("feed"),
	}
}

// Start connects and begins delivering ticks until Stop is called
func (s *Stream) Start() {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.stopChan = make(chan struct{})
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run()
}

// Stop closes the connection and waits for the read loop to exit
func (s *Stream) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	close(s.stopChan)
	if s.conn != nil {
		s.conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("tick stream stopped", "url", s.url)
}

// run reconnects forever until stopped
func (s *Stream) run() {
	defer s.wg.Done()

	backoff := time.Second
	for {
		select {
		case <-s.stopChan:
			return
		default:
		}

		conn, _, err := websocket.DefaultDialer.Dial(s.url, nil)
		if err != nil {
			s.logger.Warn("feed connection failed, retrying", "url", s.url, "error", err)
			select {
			case <-s.stopChan:
				return
			case <-time.After(backoff):
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}

		s.mu.Lock()
		s.conn = conn
		s.mu.Unlock()
		backoff = time.Second
		s.logger.Info("feed connected", "url", s.url)

		s.readLoop(conn)

		conn.Close()
		select {
		case <-s.stopChan:
			return
		default:
			s.logger.Warn("feed disconnected, reconnecting", "url", s.url)
		}
	}
}

// readLoop delivers ticks until the connection drops
func (s *Stream) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		symbol, price, ok := parseTick(data)
		if !ok {
			continue
		}
		s.handler.IngestTick(symbol, price)
	}
}

// parseTick extracts (symbol, price) from a feed message. Non-tick events
// and unparseable prices are skipped.
func parseTick(data []byte) (string, float64, bool) {
	var msg tickMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return "", 0, false
	}
	if msg.Symbol == "" {
		return "", 0, false
	}

	raw := msg.Price
	if len(raw) == 0 {
		raw = msg.LastPrice
	}
	if len(raw) == 0 {
		return "", 0, false
	}

	price, err := parsePrice(raw)
	if err != nil {
		return "", 0, false
	}
	return msg.Symbol, price, true
}

func parsePrice(raw json.RawMessage) (float64, error) {
	text := strings.Trim(string(raw), `"`)
	return strconv.ParseFloat(text, 64)
}

// Feed manages one stream per configured source URL
type Feed struct {
	streams []*Stream
	logger  *logging.Logger
}

// NewFeed creates streams for each URL
func NewFeed(urls []string, handler TickHandler, logger *logging.Logger) *Feed {
	if logger == nil {
		logger = logging.Default()
	}
	f := &Feed{logger: logger.WithComponent("feed")}
	for _, url := range urls {
		f.streams = append(f.streams, NewStream(url, handler, logger))
	}
	return f
}

// Start starts all streams
func (f *Feed) Start() {
	for _, s := range f.streams {
		s.Start()
	}
	f.logger.Info("tick feed started", "sources", len(f.streams))
}

// Stop stops all streams
func (f *Feed) Stop() {
	for _, s := range f.streams {
		s.Stop()
	}
}
