package engine

import (
	"time"

	"breakout-trading-bot/internal/logging"

	"github.com/google/uuid"
)

// Track is one direction of the dual-track breakout engine. It owns the
// breakout FSM, the open paper trade, trade history, and the nested live
// sub-track. At most one paper trade is open at any time.
//
// Tracks are not safe for concurrent use: the engine serializes all calls.
type Track struct {
	Direction       Direction          `json:"direction"`
	State           TrackState         `json:"fsm_state"`
	Threshold       *float64           `json:"threshold,omitempty"`
	Paper           *PaperTrade        `json:"paper_trade,omitempty"`
	PaperHistory    []ClosedPaperTrade `json:"paper_trade_history"`
	PeakPnlHistory  []PeakSample       `json:"peak_pnl_history"`
	CurrentPeakPnl  *float64           `json:"current_peak_pnl,omitempty"`
	Signals         []SignalRecord     `json:"signals"`
	LastSignalAtMs  int64              `json:"last_signal_at_ms,omitempty"`
	LastBlockedAtMs int64              `json:"last_blocked_at_ms,omitempty"`
	Live            LiveTrack          `json:"live"`

	cfg    TrackConfig
	hooks  TrackHooks
	logger *logging.Logger
}

// NewTrack creates a position track for one direction
func NewTrack(direction Direction, cfg TrackConfig, hooks TrackHooks, logger *logging.Logger) *Track {
	if logger == nil {
		logger = logging.Default()
	}
	return &Track{
		Direction: direction,
		State:     StateNoPosition,
		Live:      LiveTrack{State: LiveNoPosition},
		cfg:       cfg,
		hooks:     hooks,
		logger:    logger.WithField("direction", string(direction)),
	}
}

// positionState is the FSM state this track uses while holding a position
func (t *Track) positionState() TrackState {
	if t.Direction == DirectionLong {
		return StateBuyPosition
	}
	return StateSellPosition
}

// breakoutMet reports whether price has crossed the threshold in the
// track's favor: LONG above, SHORT below.
func (t *Track) breakoutMet(price float64) bool {
	if t.Threshold == nil {
		return false
	}
	if t.Direction == DirectionLong {
		return price > *t.Threshold
	}
	return price < *t.Threshold
}

// stopHit reports whether price has crossed back past the threshold
// against the open position
func (t *Track) stopHit(price float64) bool {
	if t.Threshold == nil {
		return false
	}
	if t.Direction == DirectionLong {
		return price < *t.Threshold
	}
	return price > *t.Threshold
}

// ApplyTick runs one FSM evaluation for a tick on the traded symbol
func (t *Track) ApplyTick(price float64, now time.Time) {
	nowMs := now.UnixMilli()
	t.healInvariant()

	switch t.State {
	case StateNoPosition:
		// No threshold armed, nothing to do

	case StateSignal:
		if t.breakoutMet(price) {
			t.openPaper(price, nowMs)
		} else {
			t.State = StateBlocked
			t.LastBlockedAtMs = nowMs
		}

	case StateBuyPosition, StateSellPosition:
		t.markPaper(price)
		if t.stopHit(price) {
			t.closePaper(price, nowMs, CloseReasonStopLoss)
			t.State = StateBlocked
			t.LastBlockedAtMs = nowMs
		} else {
			t.evaluateLive(price, nowMs)
		}

	case StateBlocked:
		if minuteBoundaryElapsed(t.LastBlockedAtMs, nowMs) {
			// Re-evaluate against the current price, not the price at block time
			if t.breakoutMet(price) {
				t.openPaper(price, nowMs)
			} else {
				t.LastBlockedAtMs = nowMs
			}
		}
	}
}

// ApplySignal arms or trails the breakout threshold. LONG uses the signal's
// stop price when given, otherwise the LTP; SHORT always uses the LTP.
func (t *Track) ApplySignal(rec SignalRecord, ltp float64, now time.Time) {
	t.pushSignal(rec)
	t.LastSignalAtMs = now.UnixMilli()

	var threshold float64
	if t.Direction == DirectionLong && rec.StopPrice != nil {
		threshold = *rec.StopPrice
	} else {
		threshold = ltp
	}
	if threshold <= 0 {
		t.logger.Warn("signal arrived without a usable threshold price", "symbol", rec.Symbol)
		return
	}

	t.Threshold = &threshold

	switch t.State {
	case StateNoPosition, StateBlocked:
		t.State = StateSignal
	case StateBuyPosition, StateSellPosition:
		// Trailing stop update, state unchanged
	}
}

// healInvariant forces the track back to NOPOSITION when the FSM claims an
// open position without a backing paper trade, e.g. after a restart.
func (t *Track) healInvariant() {
	if t.State == t.positionState() && t.Paper == nil {
		t.logger.Warn("position state without backing paper trade, resetting track")
		t.State = StateNoPosition
		t.Threshold = nil
		t.CurrentPeakPnl = nil
	}
}

func (t *Track) openPaper(price float64, nowMs int64) {
	trade := &PaperTrade{
		ID:           uuid.NewString(),
		Symbol:       t.cfg.Symbol,
		Direction:    t.Direction,
		EntryPrice:   price,
		CurrentPrice: price,
		Quantity:     t.cfg.FixedNotional / price,
		EnteredAt:    nowMs,
	}
	t.Paper = trade
	t.Live.pendingPaper = trade
	t.CurrentPeakPnl = nil
	t.State = t.positionState()

	t.logger.Info("paper trade opened", "entry", price, "quantity", trade.Quantity)
	if t.hooks != nil {
		t.hooks.PaperOpened(t, *trade)
	}
}

// markPaper updates the open paper trade's price, unrealized PnL and peak
func (t *Track) markPaper(price float64) {
	t.Paper.CurrentPrice = price
	t.Paper.UnrealizedPnl = directionPnl(t.Direction, t.Paper.EntryPrice, price) * t.Paper.Quantity

	// Peak only records positive values and never decreases
	if t.Paper.UnrealizedPnl > 0 && (t.CurrentPeakPnl == nil || t.Paper.UnrealizedPnl > *t.CurrentPeakPnl) {
		peak := t.Paper.UnrealizedPnl
		t.CurrentPeakPnl = &peak
	}
}

// closePaper moves the open paper trade to history and force-closes any open
// live trade on this track
func (t *Track) closePaper(price float64, nowMs int64, reason string) {
	trade := t.Paper
	realized := directionPnl(t.Direction, trade.EntryPrice, price) * trade.Quantity

	closed := ClosedPaperTrade{
		PaperTrade:  *trade,
		ExitPrice:   price,
		RealizedPnl: realized,
		CloseReason: reason,
		ClosedAt:    nowMs,
	}
	closed.CurrentPrice = price
	closed.UnrealizedPnl = realized
	t.PaperHistory = append([]ClosedPaperTrade{closed}, t.PaperHistory...)

	if t.CurrentPeakPnl != nil {
		sample := PeakSample{TradeID: trade.ID, PeakPnl: *t.CurrentPeakPnl, RecordedAt: nowMs}
		t.PeakPnlHistory = append([]PeakSample{sample}, t.PeakPnlHistory...)
	}

	t.Paper = nil
	t.Live.pendingPaper = nil
	t.CurrentPeakPnl = nil

	if t.Live.State == LivePosition {
		liveReason := CloseReasonPaperClosed
		if reason == CloseReasonDailyReset {
			liveReason = CloseReasonDailyReset
		}
		t.closeLive(price, nowMs, liveReason)
	}

	t.logger.Info("paper trade closed", "reason", reason, "exit", price, "realized_pnl", realized)
	if t.hooks != nil {
		t.hooks.PaperClosed(t, closed)
	}
}

// evaluateLive runs promotion/demotion keyed off total PnL, recomputed every
// tick while a paper trade is open
func (t *Track) evaluateLive(price float64, nowMs int64) {
	lv := &t.Live

	if lv.BlockedAtMs != 0 && minuteBoundaryElapsed(lv.BlockedAtMs, nowMs) {
		lv.BlockedAtMs = 0
	}

	totalPnl := lv.CumulativePnl + t.Paper.UnrealizedPnl

	if lv.State == LiveNoPosition {
		if lv.pendingPaper != nil && lv.BlockedAtMs == 0 && totalPnl > t.cfg.OpenThreshold {
			t.openLive(price, nowMs)
		}
		return
	}

	trade := lv.OpenTrade
	trade.CurrentPrice = price
	trade.UnrealizedPnl = directionPnl(t.Direction, trade.EntryPrice, price) * trade.Quantity * trade.Lot
	lv.UnrealizedPnl = trade.UnrealizedPnl

	if totalPnl <= t.cfg.CloseThreshold {
		t.closeLive(price, nowMs, CloseReasonProtective)
		lv.BlockedAtMs = nowMs
	}
}

func (t *Track) openLive(price float64, nowMs int64) {
	lv := &t.Live
	trade := &LiveTrade{
		ID:           uuid.NewString(),
		Symbol:       t.cfg.Symbol,
		Direction:    t.Direction,
		EntryPrice:   price,
		CurrentPrice: price,
		Quantity:     t.Paper.Quantity,
		Lot:          t.cfg.LotSize,
		EnteredAt:    nowMs,
	}
	lv.OpenTrade = trade
	lv.State = LivePosition
	lv.UnrealizedPnl = 0

	row := LiveTradeRow{
		ID:        trade.ID,
		Kind:      ExecutionEntry,
		Symbol:    trade.Symbol,
		Direction: t.Direction,
		Price:     price,
		Quantity:  trade.Quantity,
		Lot:       trade.Lot,
		At:        nowMs,
	}
	lv.pushTrade(row)

	t.logger.Info("live trade opened", "entry", price, "quantity", trade.Quantity, "lot", trade.Lot)
	if t.hooks != nil {
		t.hooks.LiveOpened(t, row)
	}
}

func (t *Track) closeLive(price float64, nowMs int64, reason string) {
	lv := &t.Live
	trade := lv.OpenTrade

	realized := directionPnl(t.Direction, trade.EntryPrice, price) * trade.Quantity * trade.Lot
	lv.CumulativePnl += realized
	cumulative := lv.CumulativePnl

	row := LiveTradeRow{
		ID:            trade.ID,
		Kind:          ExecutionExit,
		Symbol:        trade.Symbol,
		Direction:     t.Direction,
		Price:         price,
		Quantity:      trade.Quantity,
		Lot:           trade.Lot,
		RealizedPnl:   &realized,
		CumulativePnl: &cumulative,
		Reason:        reason,
		At:            nowMs,
	}
	lv.OpenTrade = nil
	lv.State = LiveNoPosition
	lv.UnrealizedPnl = 0
	lv.pushTrade(row)

	t.logger.Info("live trade closed", "reason", reason, "exit", price, "realized_pnl", realized, "cumulative_pnl", cumulative)
	if t.hooks != nil {
		t.hooks.LiveClosed(t, row)
	}
}

// ResetForNewDay closes any open trades into history and clears the day's
// working state. The live trade ledger and paper history are retained;
// aggregation windows restart from the engine's new reset timestamp.
func (t *Track) ResetForNewDay(ltp float64, now time.Time) {
	nowMs := now.UnixMilli()

	if t.Paper != nil {
		price := ltp
		if price <= 0 {
			price = t.Paper.CurrentPrice
		}
		t.closePaper(price, nowMs, CloseReasonDailyReset)
	} else if t.Live.State == LivePosition {
		// Live without paper should not happen, close it anyway
		price := ltp
		if price <= 0 {
			price = t.Live.OpenTrade.CurrentPrice
		}
		t.closeLive(price, nowMs, CloseReasonDailyReset)
	}

	t.State = StateNoPosition
	t.Threshold = nil
	t.CurrentPeakPnl = nil
	t.LastBlockedAtMs = 0
	t.Signals = nil
	t.Live.CumulativePnl = 0
	t.Live.UnrealizedPnl = 0
	t.Live.BlockedAtMs = 0
	t.Live.pendingPaper = nil
}

// Restore applies a persisted track record. Open trades are not persisted, so
// a restored position state has no backing trade and heals to NOPOSITION on
// the next tick.
func (t *Track) Restore(rec TrackRecord) {
	if rec.FsmState != "" {
		t.State = rec.FsmState
	}
	t.Threshold = rec.Threshold
	t.PaperHistory = rec.PaperTradeHistory
	t.PeakPnlHistory = rec.PeakPnlHistory
	t.CurrentPeakPnl = rec.CurrentPeakPnl
	t.Signals = rec.Signals
	t.Live.Trades = rec.LiveTrades
	t.Live.CumulativePnl = rec.LiveCumulativePnl
}

// record captures the persisted portion of this track
func (t *Track) record() TrackRecord {
	return TrackRecord{
		FsmState:          t.State,
		Threshold:         t.Threshold,
		PaperTradeHistory: t.PaperHistory,
		PeakPnlHistory:    t.PeakPnlHistory,
		CurrentPeakPnl:    t.CurrentPeakPnl,
		Signals:           t.Signals,
		LiveTrades:        t.Live.Trades,
		LiveCumulativePnl: t.Live.CumulativePnl,
	}
}

func (t *Track) pushSignal(rec SignalRecord) {
	t.Signals = append([]SignalRecord{rec}, t.Signals...)
	if len(t.Signals) > signalRingSize {
		t.Signals = t.Signals[:signalRingSize]
	}
}

func (lv *LiveTrack) pushTrade(row LiveTradeRow) {
	lv.Trades = append([]LiveTradeRow{row}, lv.Trades...)
	if len(lv.Trades) > liveTradeRingSize {
		lv.Trades = lv.Trades[:liveTradeRingSize]
	}
}
