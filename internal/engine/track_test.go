package engine

import (
	"math"
	"testing"
	"time"
)

// recordingHooks captures track lifecycle callbacks for assertions
type recordingHooks struct {
	paperOpened []PaperTrade
	paperClosed []ClosedPaperTrade
	liveOpened  []LiveTradeRow
	liveClosed  []LiveTradeRow
}

func (h *recordingHooks) PaperOpened(t *Track, trade PaperTrade) {
	h.paperOpened = append(h.paperOpened, trade)
}

func (h *recordingHooks) PaperClosed(t *Track, closed ClosedPaperTrade) {
	h.paperClosed = append(h.paperClosed, closed)
}

func (h *recordingHooks) LiveOpened(t *Track, row LiveTradeRow) {
	h.liveOpened = append(h.liveOpened, row)
}

func (h *recordingHooks) LiveClosed(t *Track, row LiveTradeRow) {
	h.liveClosed = append(h.liveClosed, row)
}

func testTrackConfig() TrackConfig {
	return TrackConfig{
		Symbol:        "BTCUSDT",
		FixedNotional: 100000,
		LotSize:       1,
	}
}

func newTestTrack(dir Direction, hooks TrackHooks) *Track {
	return NewTrack(dir, testTrackConfig(), hooks, nil)
}

// at builds a deterministic timestamp; minute controls lockout boundaries
func at(minute, sec int) time.Time {
	return time.Date(2026, 1, 2, 10, minute, sec, 0, time.UTC)
}

func armLong(t *Track, threshold float64, now time.Time) {
	stop := threshold
	t.ApplySignal(SignalRecord{Symbol: "BTCUSDT", Side: "BUY", StopPrice: &stop, ReceivedAt: now.UnixMilli()}, 0, now)
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

// TestLongBreakoutEntryAndStopOut walks a LONG track through arm, breakout
// entry and stop-out: threshold 100, prices 100 then 101 then 99
func TestLongBreakoutEntryAndStopOut(t *testing.T) {
	hooks := &recordingHooks{}
	track := newTestTrack(DirectionLong, hooks)

	armLong(track, 100, at(0, 0))
	if track.State != StateSignal {
		t.Fatalf("Expected NOPOSITION_SIGNAL after arming, got %s", track.State)
	}

	// 100 does not cross above 100, the track blocks
	track.ApplyTick(100, at(0, 30))
	if track.State != StateBlocked {
		t.Fatalf("Expected NOPOSITION_BLOCKED after non-crossing tick, got %s", track.State)
	}

	// Next minute, 101 crosses and enters
	track.ApplyTick(101, at(1, 5))
	if track.State != StateBuyPosition {
		t.Fatalf("Expected BUYPOSITION after breakout, got %s", track.State)
	}
	if track.Paper == nil {
		t.Fatal("Expected an open paper trade after breakout")
	}
	if track.Paper.EntryPrice != 101 {
		t.Errorf("Expected entry at 101, got %f", track.Paper.EntryPrice)
	}
	if !almostEqual(track.Paper.Quantity, 100000.0/101) {
		t.Errorf("Expected quantity %f, got %f", 100000.0/101, track.Paper.Quantity)
	}

	// 99 crosses back below the threshold, stop out
	track.ApplyTick(99, at(1, 10))
	if track.State != StateBlocked {
		t.Fatalf("Expected NOPOSITION_BLOCKED after stop, got %s", track.State)
	}
	if track.Paper != nil {
		t.Error("Expected paper trade cleared after stop")
	}
	if len(track.PaperHistory) != 1 {
		t.Fatalf("Expected 1 closed trade in history, got %d", len(track.PaperHistory))
	}
	closed := track.PaperHistory[0]
	if closed.CloseReason != CloseReasonStopLoss {
		t.Errorf("Expected close reason %q, got %q", CloseReasonStopLoss, closed.CloseReason)
	}
	if closed.RealizedPnl >= 0 {
		t.Errorf("Expected negative realized PnL, got %f", closed.RealizedPnl)
	}
	if len(hooks.paperOpened) != 1 || len(hooks.paperClosed) != 1 {
		t.Errorf("Expected 1 open and 1 close callback, got %d and %d", len(hooks.paperOpened), len(hooks.paperClosed))
	}
}

// TestShortThresholdAlwaysLTP verifies the SHORT track ignores the signal's
// stop price and arms at the last traded price
func TestShortThresholdAlwaysLTP(t *testing.T) {
	track := newTestTrack(DirectionShort, nil)

	stop := 50.0
	track.ApplySignal(SignalRecord{Symbol: "BTCUSDT", Side: "SELL", StopPrice: &stop}, 60, at(0, 0))

	if track.Threshold == nil {
		t.Fatal("Expected threshold armed")
	}
	if *track.Threshold != 60 {
		t.Errorf("Expected SHORT threshold at LTP 60, got %f", *track.Threshold)
	}
	if track.State != StateSignal {
		t.Errorf("Expected NOPOSITION_SIGNAL, got %s", track.State)
	}
}

// TestLongThresholdPrefersStopPrice verifies the LONG track uses the signal's
// stop price over the LTP when one is given
func TestLongThresholdPrefersStopPrice(t *testing.T) {
	track := newTestTrack(DirectionLong, nil)

	stop := 100.0
	track.ApplySignal(SignalRecord{Symbol: "BTCUSDT", Side: "BUY", StopPrice: &stop}, 95, at(0, 0))
	if track.Threshold == nil || *track.Threshold != 100 {
		t.Fatalf("Expected threshold 100 from stop price, got %v", track.Threshold)
	}

	// Without a stop price the LTP is used
	track2 := newTestTrack(DirectionLong, nil)
	track2.ApplySignal(SignalRecord{Symbol: "BTCUSDT", Side: "BUY"}, 95, at(0, 0))
	if track2.Threshold == nil || *track2.Threshold != 95 {
		t.Fatalf("Expected threshold 95 from LTP, got %v", track2.Threshold)
	}
}

// TestSignalWithoutUsableThresholdRecordsButDoesNotArm covers a signal
// arriving before any price is known
func TestSignalWithoutUsableThresholdRecordsButDoesNotArm(t *testing.T) {
	track := newTestTrack(DirectionShort, nil)

	track.ApplySignal(SignalRecord{Symbol: "BTCUSDT", Side: "SELL"}, 0, at(0, 0))

	if track.Threshold != nil {
		t.Errorf("Expected no threshold, got %f", *track.Threshold)
	}
	if track.State != StateNoPosition {
		t.Errorf("Expected NOPOSITION, got %s", track.State)
	}
	if len(track.Signals) != 1 {
		t.Errorf("Expected signal recorded in ring, got %d", len(track.Signals))
	}
}

// TestTrailingThresholdUpdateInPosition verifies a signal while in position
// moves the threshold without changing state or the open trade
func TestTrailingThresholdUpdateInPosition(t *testing.T) {
	track := newTestTrack(DirectionLong, nil)
	armLong(track, 100, at(0, 0))
	track.ApplyTick(101, at(0, 10))
	if track.State != StateBuyPosition {
		t.Fatalf("Expected BUYPOSITION, got %s", track.State)
	}
	tradeID := track.Paper.ID

	armLong(track, 100.5, at(0, 20))

	if track.State != StateBuyPosition {
		t.Errorf("Expected state unchanged, got %s", track.State)
	}
	if *track.Threshold != 100.5 {
		t.Errorf("Expected trailed threshold 100.5, got %f", *track.Threshold)
	}
	if track.Paper == nil || track.Paper.ID != tradeID {
		t.Error("Expected the same open paper trade")
	}
}

// TestPeakPnlPositiveOnlyAndMonotone verifies the peak tracker never records
// losses and never decreases
func TestPeakPnlPositiveOnlyAndMonotone(t *testing.T) {
	track := newTestTrack(DirectionLong, nil)
	armLong(track, 100, at(0, 0))
	track.ApplyTick(101, at(0, 10))

	// Losing but not stopped: entry 101, price 100.5, threshold 100
	track.ApplyTick(100.5, at(0, 15))
	if track.CurrentPeakPnl != nil {
		t.Errorf("Expected no peak while PnL negative, got %f", *track.CurrentPeakPnl)
	}

	track.ApplyTick(105, at(0, 20))
	if track.CurrentPeakPnl == nil {
		t.Fatal("Expected peak recorded at 105")
	}
	peak := *track.CurrentPeakPnl
	if !almostEqual(peak, (105-101)*100000.0/101) {
		t.Errorf("Expected peak %f, got %f", (105-101)*100000.0/101, peak)
	}

	// Pullback must not lower the peak
	track.ApplyTick(103, at(0, 25))
	if *track.CurrentPeakPnl != peak {
		t.Errorf("Expected peak unchanged at %f, got %f", peak, *track.CurrentPeakPnl)
	}

	// Stop out archives the peak sample
	track.ApplyTick(99, at(0, 30))
	if len(track.PeakPnlHistory) != 1 {
		t.Fatalf("Expected 1 peak sample, got %d", len(track.PeakPnlHistory))
	}
	if track.PeakPnlHistory[0].PeakPnl != peak {
		t.Errorf("Expected archived peak %f, got %f", peak, track.PeakPnlHistory[0].PeakPnl)
	}
	if track.CurrentPeakPnl != nil {
		t.Error("Expected current peak cleared after close")
	}
}

// TestBlockedReEvaluatesWithCurrentPrice verifies the re-entry check after a
// lockout uses the price at re-evaluation time
func TestBlockedReEvaluatesWithCurrentPrice(t *testing.T) {
	track := newTestTrack(DirectionLong, nil)
	armLong(track, 100, at(0, 0))
	track.ApplyTick(99, at(0, 59))
	if track.State != StateBlocked {
		t.Fatalf("Expected NOPOSITION_BLOCKED, got %s", track.State)
	}

	// Seconds later a minute boundary has passed and 102 crosses
	track.ApplyTick(102, at(1, 2))
	if track.State != StateBuyPosition {
		t.Fatalf("Expected BUYPOSITION after unblock, got %s", track.State)
	}
	if track.Paper.EntryPrice != 102 {
		t.Errorf("Expected entry at current price 102, got %f", track.Paper.EntryPrice)
	}
}

// TestBlockedStaysBlockedWithinMinute verifies no re-evaluation happens before
// the wall clock crosses a minute boundary
func TestBlockedStaysBlockedWithinMinute(t *testing.T) {
	track := newTestTrack(DirectionLong, nil)
	armLong(track, 100, at(0, 0))
	track.ApplyTick(99, at(0, 5))

	track.ApplyTick(102, at(0, 55))
	if track.State != StateBlocked {
		t.Fatalf("Expected still blocked within the same minute, got %s", track.State)
	}

	// Boundary crossed but price below threshold: stay blocked, anchor moves
	track.ApplyTick(98, at(1, 5))
	if track.State != StateBlocked {
		t.Fatalf("Expected still blocked, got %s", track.State)
	}
	if track.LastBlockedAtMs != at(1, 5).UnixMilli() {
		t.Errorf("Expected block anchor refreshed to re-evaluation time")
	}
}

// TestHealInvariantOnPositionWithoutTrade covers the restart case where a
// restored position state has no backing open trade
func TestHealInvariantOnPositionWithoutTrade(t *testing.T) {
	track := newTestTrack(DirectionLong, nil)
	threshold := 100.0
	track.State = StateBuyPosition
	track.Threshold = &threshold

	track.ApplyTick(105, at(0, 0))

	if track.State != StateNoPosition {
		t.Errorf("Expected heal to NOPOSITION, got %s", track.State)
	}
	if track.Threshold != nil {
		t.Error("Expected threshold cleared by heal")
	}
	if track.Paper != nil {
		t.Error("Expected no paper trade after heal")
	}
}

// TestLivePromotionEmitsSingleEntry verifies positive total PnL promotes the
// paper trade exactly once
func TestLivePromotionEmitsSingleEntry(t *testing.T) {
	hooks := &recordingHooks{}
	track := newTestTrack(DirectionLong, hooks)
	armLong(track, 100, at(0, 0))
	track.ApplyTick(101, at(0, 10))

	track.ApplyTick(102, at(0, 15))
	if track.Live.State != LivePosition {
		t.Fatalf("Expected live POSITION, got %s", track.Live.State)
	}
	if len(hooks.liveOpened) != 1 {
		t.Fatalf("Expected exactly 1 live ENTRY, got %d", len(hooks.liveOpened))
	}
	if track.Live.OpenTrade.EntryPrice != 102 {
		t.Errorf("Expected live entry at 102, got %f", track.Live.OpenTrade.EntryPrice)
	}
	if !almostEqual(track.Live.OpenTrade.Quantity, track.Paper.Quantity) {
		t.Error("Expected live quantity to match paper quantity")
	}

	// Further profitable ticks must not emit more entries
	track.ApplyTick(103, at(0, 20))
	track.ApplyTick(104, at(0, 25))
	if len(hooks.liveOpened) != 1 {
		t.Errorf("Expected still 1 live ENTRY, got %d", len(hooks.liveOpened))
	}
}

// TestProtectiveCloseEmitsSingleExit drives total PnL from +5 area to
// negative on one tick and expects exactly one protective EXIT
func TestProtectiveCloseEmitsSingleExit(t *testing.T) {
	hooks := &recordingHooks{}
	track := newTestTrack(DirectionLong, hooks)
	armLong(track, 100, at(0, 0))
	track.ApplyTick(101, at(0, 10))
	track.ApplyTick(102, at(0, 15)) // promotes

	// 100.5 stays above the threshold but total PnL goes negative
	track.ApplyTick(100.5, at(0, 20))

	if track.Live.State != LiveNoPosition {
		t.Fatalf("Expected live NO_POSITION after protective close, got %s", track.Live.State)
	}
	if len(hooks.liveClosed) != 1 {
		t.Fatalf("Expected exactly 1 live EXIT, got %d", len(hooks.liveClosed))
	}
	exit := hooks.liveClosed[0]
	if exit.Reason != CloseReasonProtective {
		t.Errorf("Expected reason %q, got %q", CloseReasonProtective, exit.Reason)
	}
	if exit.RealizedPnl == nil || *exit.RealizedPnl >= 0 {
		t.Error("Expected negative realized PnL on protective close")
	}
	if track.Live.BlockedAtMs != at(0, 20).UnixMilli() {
		t.Errorf("Expected lockout anchored at the closing tick, got %d", track.Live.BlockedAtMs)
	}

	// Paper trade stays open through the protective close
	if track.Paper == nil || track.State != StateBuyPosition {
		t.Error("Expected paper position to survive the protective close")
	}
}

// TestLockoutBlocksRepromotion verifies a protectively closed live track
// cannot re-promote until the minute boundary passes
func TestLockoutBlocksRepromotion(t *testing.T) {
	hooks := &recordingHooks{}
	track := newTestTrack(DirectionLong, hooks)
	armLong(track, 100, at(0, 0))
	track.ApplyTick(101, at(0, 10))
	track.ApplyTick(102, at(0, 15)) // promotes
	track.ApplyTick(100.5, at(0, 20)) // protective close, lockout

	// Profitable again in the same minute, lockout holds.
	// Cumulative live PnL is negative, so the paper PnL must outweigh it.
	track.ApplyTick(110, at(0, 30))
	if len(hooks.liveOpened) != 1 {
		t.Fatalf("Expected no re-promotion during lockout, got %d entries", len(hooks.liveOpened))
	}

	// Next minute the lockout clears and promotion fires again
	track.ApplyTick(110, at(1, 2))
	if len(hooks.liveOpened) != 2 {
		t.Fatalf("Expected re-promotion after lockout, got %d entries", len(hooks.liveOpened))
	}
	if track.Live.BlockedAtMs != 0 {
		t.Error("Expected lockout cleared")
	}
}

// TestPaperCloseForceClosesLive verifies a paper stop-out takes the open live
// trade down with it
func TestPaperCloseForceClosesLive(t *testing.T) {
	hooks := &recordingHooks{}
	track := newTestTrack(DirectionLong, hooks)
	armLong(track, 100, at(0, 0))
	track.ApplyTick(101, at(0, 10))
	track.ApplyTick(102, at(0, 15)) // promotes

	// Straight through the threshold: paper stops out, live must follow
	track.ApplyTick(99, at(0, 20))

	if track.State != StateBlocked {
		t.Fatalf("Expected NOPOSITION_BLOCKED, got %s", track.State)
	}
	if track.Live.State != LiveNoPosition {
		t.Fatalf("Expected live closed, got %s", track.Live.State)
	}
	if len(hooks.liveClosed) != 1 {
		t.Fatalf("Expected 1 live EXIT, got %d", len(hooks.liveClosed))
	}
	if hooks.liveClosed[0].Reason != CloseReasonPaperClosed {
		t.Errorf("Expected reason %q, got %q", CloseReasonPaperClosed, hooks.liveClosed[0].Reason)
	}
}

// TestResetForNewDay closes open trades into history and clears the working
// state while keeping the ledgers
func TestResetForNewDay(t *testing.T) {
	hooks := &recordingHooks{}
	track := newTestTrack(DirectionLong, hooks)
	armLong(track, 100, at(0, 0))
	track.ApplyTick(101, at(0, 10))
	track.ApplyTick(102, at(0, 15)) // promotes

	track.ResetForNewDay(103, at(30, 0))

	if track.State != StateNoPosition {
		t.Errorf("Expected NOPOSITION after reset, got %s", track.State)
	}
	if track.Threshold != nil || track.CurrentPeakPnl != nil {
		t.Error("Expected threshold and peak cleared")
	}
	if track.Signals != nil {
		t.Error("Expected signal ring cleared")
	}
	if track.Live.CumulativePnl != 0 || track.Live.UnrealizedPnl != 0 || track.Live.BlockedAtMs != 0 {
		t.Error("Expected live PnL state zeroed")
	}
	if len(track.PaperHistory) != 1 {
		t.Fatalf("Expected closed paper trade in history, got %d", len(track.PaperHistory))
	}
	if track.PaperHistory[0].CloseReason != CloseReasonDailyReset {
		t.Errorf("Expected reason %q, got %q", CloseReasonDailyReset, track.PaperHistory[0].CloseReason)
	}
	if len(hooks.liveClosed) != 1 || hooks.liveClosed[0].Reason != CloseReasonDailyReset {
		t.Error("Expected live trade closed with the daily reset reason")
	}
	if len(track.Live.Trades) != 2 {
		t.Errorf("Expected live ledger retained (entry + exit), got %d rows", len(track.Live.Trades))
	}

	// A second reset on already-flat state is a no-op for history
	track.ResetForNewDay(103, at(31, 0))
	if len(track.PaperHistory) != 1 {
		t.Errorf("Expected history unchanged on flat reset, got %d", len(track.PaperHistory))
	}
}

// TestSignalRingBounded verifies the signal ring keeps the most recent 50
func TestSignalRingBounded(t *testing.T) {
	track := newTestTrack(DirectionShort, nil)

	for i := 0; i < 55; i++ {
		track.ApplySignal(SignalRecord{Symbol: "BTCUSDT", Side: "SELL", ReceivedAt: int64(i)}, 60, at(0, i%60))
	}

	if len(track.Signals) != 50 {
		t.Fatalf("Expected ring capped at 50, got %d", len(track.Signals))
	}
	if track.Signals[0].ReceivedAt != 54 {
		t.Errorf("Expected most recent signal first, got received_at %d", track.Signals[0].ReceivedAt)
	}
}

// TestShortBreakoutDirection verifies the SHORT track enters below and stops
// above its threshold
func TestShortBreakoutDirection(t *testing.T) {
	track := newTestTrack(DirectionShort, nil)
	track.ApplySignal(SignalRecord{Symbol: "BTCUSDT", Side: "SELL"}, 100, at(0, 0))

	track.ApplyTick(99, at(0, 10))
	if track.State != StateSellPosition {
		t.Fatalf("Expected SELLPOSITION below threshold, got %s", track.State)
	}
	if !almostEqual(track.Paper.UnrealizedPnl, 0) {
		t.Errorf("Expected zero PnL at entry, got %f", track.Paper.UnrealizedPnl)
	}

	// Profit as price falls
	track.ApplyTick(95, at(0, 15))
	if track.Paper.UnrealizedPnl <= 0 {
		t.Errorf("Expected positive PnL as price falls, got %f", track.Paper.UnrealizedPnl)
	}

	// Stop above the threshold
	track.ApplyTick(101, at(0, 20))
	if track.State != StateBlocked {
		t.Fatalf("Expected NOPOSITION_BLOCKED after stop, got %s", track.State)
	}
	if track.PaperHistory[0].RealizedPnl >= 0 {
		t.Errorf("Expected negative realized PnL, got %f", track.PaperHistory[0].RealizedPnl)
	}
}

// TestMinuteBoundaryArithmetic pins the lockout rule to calendar-minute
// boundaries rather than a 60-second cooldown
func TestMinuteBoundaryArithmetic(t *testing.T) {
	anchor := at(0, 59).UnixMilli()

	if minuteBoundaryElapsed(anchor, at(0, 59).UnixMilli()+500) {
		t.Error("Expected same minute not elapsed")
	}
	// One second later a boundary has been crossed
	if !minuteBoundaryElapsed(anchor, at(1, 0).UnixMilli()) {
		t.Error("Expected boundary crossed one second after an end-of-minute anchor")
	}

	// An anchor at the start of a minute waits nearly the full minute
	anchor = at(2, 0).UnixMilli()
	if minuteBoundaryElapsed(anchor, at(2, 59).UnixMilli()) {
		t.Error("Expected boundary not crossed within the anchor minute")
	}
	if !minuteBoundaryElapsed(anchor, at(3, 0).UnixMilli()) {
		t.Error("Expected boundary crossed at the next minute")
	}
}
