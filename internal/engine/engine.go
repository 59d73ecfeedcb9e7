package engine

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"breakout-trading-bot/config"
	"breakout-trading-bot/internal/events"
	"breakout-trading-bot/internal/logging"
)

// Engine is the sole owner of all mutable trading state: both position
// tracks, the price table and the daily-reset bookkeeping. Ticks, signals,
// snapshot requests and timers are serialized through one event channel
// consumed by a single goroutine, so no two handlers ever run concurrently
// against the same state.
type Engine struct {
	cfg      config.EngineConfig
	logger   *logging.Logger
	bus      *events.EventBus
	notifier ExecutionNotifier
	store    SnapshotStore
	archive  TradeArchiver

	long  *Track
	short *Track

	prices             map[string]float64
	lastResetDate      string
	lastResetTimestamp int64

	loc      *time.Location
	events   chan engineEvent
	stopChan chan struct{}
	wg       sync.WaitGroup

	// now is swappable for deterministic tests
	now func() time.Time
}

type eventKind int

const (
	evTick eventKind = iota
	evSignal
	evSnapshot
	evRearm
)

type engineEvent struct {
	kind   eventKind
	symbol string
	price  float64
	signal Signal
	reply  chan EngineSnapshot
}

// NewEngine creates the dual-track engine. Notifier, store and archive may be
// nil; the corresponding outbound calls are then skipped.
func NewEngine(cfg config.EngineConfig, logger *logging.Logger, bus *events.EventBus, notifier ExecutionNotifier, store SnapshotStore, archive TradeArchiver) (*Engine, error) {
	if logger == nil {
		logger = logging.Default()
	}
	if bus == nil {
		bus = events.NewEventBus()
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid engine timezone %q: %w", cfg.Timezone, err)
	}

	bufSize := cfg.EventBufferSize
	if bufSize <= 0 {
		bufSize = 1024
	}

	e := &Engine{
		cfg:      cfg,
		logger:   logger.WithComponent("engine"),
		bus:      bus,
		notifier: notifier,
		store:    store,
		archive:  archive,
		prices:   make(map[string]float64),
		loc:      loc,
		events:   make(chan engineEvent, bufSize),
		stopChan: make(chan struct{}),
		now:      time.Now,
	}

	trackCfg := TrackConfig{
		Symbol:         cfg.TradedSymbol,
		FixedNotional:  cfg.FixedNotional,
		LotSize:        cfg.LotSize,
		OpenThreshold:  cfg.OpenThreshold,
		CloseThreshold: cfg.CloseThreshold,
	}
	hooks := &engineHooks{engine: e}
	e.long = NewTrack(DirectionLong, trackCfg, hooks, e.logger)
	e.short = NewTrack(DirectionShort, trackCfg, hooks, e.logger)

	return e, nil
}

// Start restores persisted state and launches the event loop
func (e *Engine) Start() error {
	e.restore()

	e.wg.Add(1)
	go e.run()

	e.logger.Info("engine started",
		"symbol", e.cfg.TradedSymbol,
		"instrument_class", e.cfg.InstrumentClass,
		"reset_time", e.cfg.ResetTime,
		"timezone", e.cfg.Timezone)
	return nil
}

// Stop terminates the event loop and writes a final snapshot
func (e *Engine) Stop() {
	close(e.stopChan)
	e.wg.Wait()

	if e.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.store.Save(ctx, e.buildRecord()); err != nil {
			e.logger.Error("final snapshot save failed", "error", err)
		}
	}
	e.logger.Info("engine stopped")
}

// IngestTick applies a price tick. Malformed prices are dropped silently;
// this call never fails and never blocks on downstream I/O.
func (e *Engine) IngestTick(symbol string, price float64) {
	if symbol == "" || math.IsNaN(price) || math.IsInf(price, 0) || price <= 0 {
		e.logger.Debug("dropping malformed tick", "symbol", symbol, "price", price)
		return
	}
	e.submit(engineEvent{kind: evTick, symbol: symbol, price: price})
}

// IngestSignal applies a normalized trade signal. This call never fails.
func (e *Engine) IngestSignal(sig Signal) {
	if sig.StopPrice != nil && (math.IsNaN(*sig.StopPrice) || math.IsInf(*sig.StopPrice, 0)) {
		sig.StopPrice = nil
	}
	e.submit(engineEvent{kind: evSignal, signal: sig})
}

// Snapshot returns a consistent view of the engine state, serialized with
// all other events. Returns a zero snapshot after Stop.
func (e *Engine) Snapshot() EngineSnapshot {
	reply := make(chan EngineSnapshot, 1)
	select {
	case e.events <- engineEvent{kind: evSnapshot, reply: reply}:
		select {
		case snap := <-reply:
			return snap
		case <-e.stopChan:
		}
	case <-e.stopChan:
	}
	return EngineSnapshot{}
}

func (e *Engine) submit(ev engineEvent) {
	select {
	case e.events <- ev:
	case <-e.stopChan:
	}
}

func (e *Engine) run() {
	defer e.wg.Done()

	broadcast := time.NewTicker(secsOrDefault(e.cfg.BroadcastSecs, 1))
	defer broadcast.Stop()
	persist := time.NewTicker(secsOrDefault(e.cfg.PersistSecs, 60))
	defer persist.Stop()
	resetCheck := time.NewTicker(secsOrDefault(e.cfg.ResetCheckSecs, 5))
	defer resetCheck.Stop()

	for {
		select {
		case <-e.stopChan:
			return

		case ev := <-e.events:
			e.handle(ev)

		case <-broadcast.C:
			e.bus.PublishSnapshot(e.buildSnapshot())

		case <-persist.C:
			e.persistAsync()

		case <-resetCheck.C:
			e.maybeDailyReset()
		}
	}
}

func (e *Engine) handle(ev engineEvent) {
	switch ev.kind {
	case evTick:
		e.handleTick(ev.symbol, ev.price)
	case evSignal:
		e.handleSignal(ev.signal)
	case evSnapshot:
		ev.reply <- e.buildSnapshot()
	case evRearm:
		e.handleRearm()
	}
}

// handleTick records the price and drives both FSMs when the tick belongs to
// the traded instrument. Unrelated symbols only update the price table.
func (e *Engine) handleTick(symbol string, price float64) {
	e.prices[symbol] = price

	if symbol != e.cfg.TradedSymbol || !strings.Contains(symbol, e.cfg.InstrumentClass) {
		return
	}

	now := e.now()
	e.long.ApplyTick(price, now)
	e.short.ApplyTick(price, now)
}

// handleSignal resolves direction (side takes precedence over intent) and
// routes to the matching track. The two directions are independent tracks,
// not a single toggle.
func (e *Engine) handleSignal(sig Signal) {
	if !strings.Contains(sig.Symbol, e.cfg.InstrumentClass) {
		e.logger.Debug("signal ignored, symbol outside instrument class", "symbol", sig.Symbol)
		return
	}

	dir, ok := resolveDirection(sig)
	if !ok {
		e.logger.Debug("signal ignored, unrecognized side/intent", "side", sig.Side, "intent", sig.Intent)
		return
	}

	track := e.trackFor(dir)
	rec := SignalRecord{
		Symbol:     sig.Symbol,
		Side:       sig.Side,
		Intent:     sig.Intent,
		StopPrice:  sig.StopPrice,
		ReceivedAt: e.now().UnixMilli(),
	}
	track.ApplySignal(rec, e.prices[e.cfg.TradedSymbol], e.now())

	threshold := 0.0
	if track.Threshold != nil {
		threshold = *track.Threshold
	}
	e.logger.Info("signal applied", "symbol", sig.Symbol, "direction", dir, "threshold", threshold, "state", track.State)
	e.bus.PublishSignalReceived(sig.Symbol, string(dir), threshold)
}

func (e *Engine) trackFor(dir Direction) *Track {
	if dir == DirectionLong {
		return e.long
	}
	return e.short
}

// resolveDirection maps side/intent tokens to a track. Side wins when both
// are present; BUY/entry-like tokens go LONG, SELL/exit-like go SHORT.
func resolveDirection(sig Signal) (Direction, bool) {
	if dir, ok := directionToken(sig.Side); ok {
		return dir, true
	}
	return directionToken(sig.Intent)
}

func directionToken(token string) (Direction, bool) {
	switch strings.ToUpper(strings.TrimSpace(token)) {
	case "BUY", "LONG", "B", "ENTRY", "ENTER", "OPEN":
		return DirectionLong, true
	case "SELL", "SHORT", "S", "EXIT", "CLOSE":
		return DirectionShort, true
	}
	return "", false
}

// maybeDailyReset fires once per calendar day inside the one-minute reset
// window, idempotent via lastResetDate.
func (e *Engine) maybeDailyReset() {
	now := e.now().In(e.loc)
	if now.Format("15:04") != e.cfg.ResetTime {
		return
	}
	today := now.Format("2006-01-02")
	if e.lastResetDate == today {
		return
	}
	e.performDailyReset(now, today)
}

func (e *Engine) performDailyReset(now time.Time, today string) {
	ltp := e.prices[e.cfg.TradedSymbol]
	e.long.ResetForNewDay(ltp, now)
	e.short.ResetForNewDay(ltp, now)

	e.lastResetDate = today
	e.lastResetTimestamp = now.UnixMilli()

	e.logger.Info("daily reset complete", "date", today)
	e.bus.PublishDailyReset(today)
	e.persistAsync()

	// Re-arm both tracks once fresh price data has had a moment to arrive
	delay := time.Duration(e.cfg.RearmDelaySecs) * time.Second
	time.AfterFunc(delay, func() {
		e.submit(engineEvent{kind: evRearm})
	})
}

// handleRearm synthesizes one BUY and one SELL signal from the latest price,
// offset by the configured margin, through the normal ingestion path
func (e *Engine) handleRearm() {
	ltp := e.prices[e.cfg.TradedSymbol]
	if ltp <= 0 {
		e.logger.Warn("no price available for post-reset re-arm")
		return
	}

	buyStop := ltp + e.cfg.RearmOffset
	sellStop := ltp - e.cfg.RearmOffset
	e.handleSignal(Signal{Symbol: e.cfg.TradedSymbol, Side: "BUY", StopPrice: &buyStop})
	e.handleSignal(Signal{Symbol: e.cfg.TradedSymbol, Side: "SELL", StopPrice: &sellStop})
	e.logger.Info("tracks re-armed after daily reset", "ltp", ltp, "offset", e.cfg.RearmOffset)
}

// restore loads the persisted snapshot at startup. Any failure means a fresh
// start; it is never fatal.
func (e *Engine) restore() {
	if e.store == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rec, err := e.store.Load(ctx)
	if err != nil {
		e.logger.Warn("failed to load persisted state, starting fresh", "error", err)
		return
	}
	if rec == nil {
		e.logger.Info("no persisted state found, starting fresh")
		return
	}

	e.lastResetDate = rec.LastResetDate
	e.lastResetTimestamp = rec.LastResetTimestamp
	e.long.Restore(rec.Long)
	e.short.Restore(rec.Short)
	e.logger.Info("state restored", "saved_at", rec.SavedAt, "last_reset_date", rec.LastResetDate)
}

// buildRecord captures the persisted engine state. Open paper and live
// trades are excluded on purpose; see SnapshotRecord.
func (e *Engine) buildRecord() *SnapshotRecord {
	return &SnapshotRecord{
		SavedAt:            e.now().UnixMilli(),
		LastResetDate:      e.lastResetDate,
		LastResetTimestamp: e.lastResetTimestamp,
		Long:               e.long.record(),
		Short:              e.short.record(),
	}
}

// persistAsync writes the current record without blocking the event loop.
// Write errors are logged, never raised.
func (e *Engine) persistAsync() {
	if e.store == nil {
		return
	}
	rec := e.buildRecord()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := e.store.Save(ctx, rec); err != nil {
			e.logger.Error("snapshot save failed", "error", err)
		}
	}()
}

func (e *Engine) archiveAsync(trade *ArchivedTrade) {
	if e.archive == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := e.archive.SaveClosedTrade(ctx, trade); err != nil {
			e.logger.Error("trade archive failed", "trade_id", trade.TradeID, "error", err)
		}
	}()
}

// notifyExecutionAsync dispatches the outbound execution call without gating
// state transitions. A failed call does not roll back the FSM.
func (e *Engine) notifyExecutionAsync(kind ExecutionKind, symbol string, price float64, dir Direction) {
	if e.notifier == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := e.notifier.NotifyExecution(ctx, kind, symbol, price, dir); err != nil {
			e.logger.Error("order execution notify failed", "kind", kind, "symbol", symbol, "direction", dir, "error", err)
		}
	}()
}

func secsOrDefault(secs int, def int) time.Duration {
	if secs <= 0 {
		secs = def
	}
	return time.Duration(secs) * time.Second
}

// engineHooks bridges track lifecycle callbacks into engine side effects:
// event publication, execution dispatch, persistence and archiving.
type engineHooks struct {
	engine *Engine
}

func (h *engineHooks) PaperOpened(t *Track, trade PaperTrade) {
	h.engine.bus.PublishPaperOpened(trade.Symbol, string(t.Direction), trade.EntryPrice, trade.Quantity)
}

func (h *engineHooks) PaperClosed(t *Track, closed ClosedPaperTrade) {
	e := h.engine
	e.bus.PublishPaperClosed(closed.Symbol, string(t.Direction), closed.CloseReason, closed.ExitPrice, closed.RealizedPnl)
	e.persistAsync()
	e.archiveAsync(&ArchivedTrade{
		TradeID:     closed.ID,
		Symbol:      closed.Symbol,
		Direction:   t.Direction,
		Book:        "PAPER",
		EntryPrice:  closed.EntryPrice,
		ExitPrice:   closed.ExitPrice,
		Quantity:    closed.Quantity,
		RealizedPnl: closed.RealizedPnl,
		Reason:      closed.CloseReason,
		EnteredAt:   closed.EnteredAt,
		ClosedAt:    closed.ClosedAt,
	})
}

func (h *engineHooks) LiveOpened(t *Track, row LiveTradeRow) {
	e := h.engine
	e.bus.PublishLiveOpened(row.Symbol, string(t.Direction), row.Price, row.Quantity)
	e.notifyExecutionAsync(ExecutionEntry, row.Symbol, row.Price, t.Direction)
}

func (h *engineHooks) LiveClosed(t *Track, row LiveTradeRow) {
	e := h.engine
	realized := 0.0
	if row.RealizedPnl != nil {
		realized = *row.RealizedPnl
	}
	cumulative := 0.0
	if row.CumulativePnl != nil {
		cumulative = *row.CumulativePnl
	}
	e.bus.PublishLiveClosed(row.Symbol, string(t.Direction), row.Reason, row.Price, realized, cumulative)
	e.notifyExecutionAsync(ExecutionExit, row.Symbol, row.Price, t.Direction)
	e.persistAsync()
	e.archiveAsync(&ArchivedTrade{
		TradeID:     row.ID,
		Symbol:      row.Symbol,
		Direction:   t.Direction,
		Book:        "LIVE",
		ExitPrice:   row.Price,
		Quantity:    row.Quantity,
		RealizedPnl: realized,
		Reason:      row.Reason,
		ClosedAt:    row.At,
	})
}
