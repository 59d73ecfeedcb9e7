package engine

import "context"

// Direction identifies one of the two independent position tracks
type Direction string

const (
	DirectionLong  Direction = "LONG"
	DirectionShort Direction = "SHORT"
)

// TrackState is the breakout FSM state of a position track
type TrackState string

const (
	StateNoPosition   TrackState = "NOPOSITION"
	StateSignal       TrackState = "NOPOSITION_SIGNAL"
	StateBuyPosition  TrackState = "BUYPOSITION"
	StateSellPosition TrackState = "SELLPOSITION"
	StateBlocked      TrackState = "NOPOSITION_BLOCKED"
)

// LiveState is the promotion state of a live sub-track
type LiveState string

const (
	LiveNoPosition LiveState = "NO_POSITION"
	LivePosition   LiveState = "POSITION"
)

// ExecutionKind distinguishes outbound order-execution calls
type ExecutionKind string

const (
	ExecutionEntry ExecutionKind = "ENTRY"
	ExecutionExit  ExecutionKind = "EXIT"
)

// Trade close reasons
const (
	CloseReasonStopLoss    = "Stop Loss"
	CloseReasonDailyReset  = "Daily Reset"
	CloseReasonProtective  = "Protective"
	CloseReasonPaperClosed = "Paper Closed"
)

const (
	signalRingSize    = 50
	liveTradeRingSize = 50
)

// Signal is the normalized trade signal shape the engine ingests.
// Payload parsing and key normalization happen upstream in the webhook layer.
type Signal struct {
	Symbol    string   `json:"symbol"`
	Side      string   `json:"side,omitempty"`
	Intent    string   `json:"intent,omitempty"`
	StopPrice *float64 `json:"stop_price,omitempty"`
}

// PaperTrade is a simulated position tracked for strategy evaluation
type PaperTrade struct {
	ID            string    `json:"id"`
	Symbol        string    `json:"symbol"`
	Direction     Direction `json:"direction"`
	EntryPrice    float64   `json:"entry_price"`
	CurrentPrice  float64   `json:"current_price"`
	Quantity      float64   `json:"quantity"`
	UnrealizedPnl float64   `json:"unrealized_pnl"`
	EnteredAt     int64     `json:"entered_at"`
}

// ClosedPaperTrade is a paper trade moved to history
type ClosedPaperTrade struct {
	PaperTrade
	ExitPrice   float64 `json:"exit_price"`
	RealizedPnl float64 `json:"realized_pnl"`
	CloseReason string  `json:"close_reason"`
	ClosedAt    int64   `json:"closed_at"`
}

// PeakSample records the highest positive unrealized PnL a closed paper trade reached
type PeakSample struct {
	TradeID    string  `json:"trade_id"`
	PeakPnl    float64 `json:"peak_pnl"`
	RecordedAt int64   `json:"recorded_at"`
}

// SignalRecord is one received signal kept in the track's bounded ring
type SignalRecord struct {
	Symbol     string   `json:"symbol"`
	Side       string   `json:"side,omitempty"`
	Intent     string   `json:"intent,omitempty"`
	StopPrice  *float64 `json:"stop_price,omitempty"`
	ReceivedAt int64    `json:"received_at"`
}

// LiveTrade is an open externally-executed position
type LiveTrade struct {
	ID            string    `json:"id"`
	Symbol        string    `json:"symbol"`
	Direction     Direction `json:"direction"`
	EntryPrice    float64   `json:"entry_price"`
	CurrentPrice  float64   `json:"current_price"`
	Quantity      float64   `json:"quantity"`
	Lot           float64   `json:"lot"`
	UnrealizedPnl float64   `json:"unrealized_pnl"`
	EnteredAt     int64     `json:"entered_at"`
}

// LiveTradeRow is one entry or exit row in the live trade ledger.
// Exit rows carry the realized PnL and the running cumulative PnL.
type LiveTradeRow struct {
	ID            string        `json:"id"`
	Kind          ExecutionKind `json:"kind"`
	Symbol        string        `json:"symbol"`
	Direction     Direction     `json:"direction"`
	Price         float64       `json:"price"`
	Quantity      float64       `json:"quantity"`
	Lot           float64       `json:"lot"`
	RealizedPnl   *float64      `json:"realized_pnl,omitempty"`
	CumulativePnl *float64      `json:"cumulative_pnl,omitempty"`
	Reason        string        `json:"reason,omitempty"`
	At            int64         `json:"at"`
}

// LiveTrack owns promotion/demotion state and the live trade ledger.
// Invariant: OpenTrade is present iff State == POSITION.
type LiveTrack struct {
	State         LiveState      `json:"state"`
	CumulativePnl float64        `json:"cumulative_pnl"`
	UnrealizedPnl float64        `json:"unrealized_pnl"`
	BlockedAtMs   int64          `json:"blocked_at_ms,omitempty"`
	OpenTrade     *LiveTrade     `json:"open_trade,omitempty"`
	Trades        []LiveTradeRow `json:"trades"`

	// pendingPaper references the paper trade eligible for promotion.
	// Never persisted: it dies with the open paper trade.
	pendingPaper *PaperTrade
}

// TrackConfig holds the per-track trading parameters
type TrackConfig struct {
	Symbol         string
	FixedNotional  float64
	LotSize        float64
	OpenThreshold  float64
	CloseThreshold float64
}

// TrackHooks receives trade lifecycle callbacks from a track.
// Implementations must not block: they run on the engine's event loop.
type TrackHooks interface {
	PaperOpened(track *Track, trade PaperTrade)
	PaperClosed(track *Track, closed ClosedPaperTrade)
	LiveOpened(track *Track, row LiveTradeRow)
	LiveClosed(track *Track, row LiveTradeRow)
}

// ExecutionNotifier is the outbound order-execution contract.
// Calls are fire-and-forget: a failure never rolls back engine state.
type ExecutionNotifier interface {
	NotifyExecution(ctx context.Context, kind ExecutionKind, symbol string, referencePrice float64, direction Direction) error
}

// SnapshotStore is the durable key-value persistence contract
type SnapshotStore interface {
	Save(ctx context.Context, record *SnapshotRecord) error
	Load(ctx context.Context) (*SnapshotRecord, error)
}

// TradeArchiver receives closed paper and live trades for durable archiving
type TradeArchiver interface {
	SaveClosedTrade(ctx context.Context, trade *ArchivedTrade) error
}

// SnapshotRecord is the persisted engine state. The currently-open paper and
// live trades are deliberately absent: a restart drops in-flight positions
// while their eventual outcome survives in history.
type SnapshotRecord struct {
	SavedAt            int64       `json:"saved_at"`
	LastResetDate      string      `json:"last_reset_date"`
	LastResetTimestamp int64       `json:"last_reset_timestamp"`
	Long               TrackRecord `json:"long"`
	Short              TrackRecord `json:"short"`
}

// TrackRecord is the persisted portion of a position track
type TrackRecord struct {
	FsmState          TrackState         `json:"fsm_state"`
	Threshold         *float64           `json:"threshold,omitempty"`
	PaperTradeHistory []ClosedPaperTrade `json:"paper_trade_history"`
	PeakPnlHistory    []PeakSample       `json:"peak_pnl_history"`
	CurrentPeakPnl    *float64           `json:"current_peak_pnl,omitempty"`
	Signals           []SignalRecord     `json:"signals"`
	LiveTrades        []LiveTradeRow     `json:"live_trades"`
	LiveCumulativePnl float64            `json:"live_cumulative_pnl"`
}

// ArchivedTrade is one closed trade row for the Postgres archive
type ArchivedTrade struct {
	TradeID     string    `json:"trade_id"`
	Symbol      string    `json:"symbol"`
	Direction   Direction `json:"direction"`
	Book        string    `json:"book"` // PAPER or LIVE
	EntryPrice  float64   `json:"entry_price"`
	ExitPrice   float64   `json:"exit_price"`
	Quantity    float64   `json:"quantity"`
	RealizedPnl float64   `json:"realized_pnl"`
	Reason      string    `json:"reason"`
	EnteredAt   int64     `json:"entered_at"`
	ClosedAt    int64     `json:"closed_at"`
}

// EngineSnapshot is the display-facing view returned by Snapshot()
type EngineSnapshot struct {
	Timestamp          int64              `json:"timestamp"`
	LastResetDate      string             `json:"last_reset_date"`
	LastResetTimestamp int64              `json:"last_reset_timestamp"`
	Prices             map[string]float64 `json:"prices"`
	Long               TrackSnapshot      `json:"long"`
	Short              TrackSnapshot      `json:"short"`
	Summaries          []TrackSummary     `json:"summaries"`
}

// TrackSnapshot is the display view of one position track
type TrackSnapshot struct {
	Direction          Direction          `json:"direction"`
	FsmState           TrackState         `json:"fsm_state"`
	Threshold          *float64           `json:"threshold,omitempty"`
	PaperTrade         *PaperTrade        `json:"paper_trade,omitempty"`
	PaperTradeHistory  []ClosedPaperTrade `json:"paper_trade_history"`
	PeakPnlHistory     []PeakSample       `json:"peak_pnl_history"`
	CurrentPeakPnl     *float64           `json:"current_peak_pnl,omitempty"`
	Signals            []SignalRecord     `json:"signals"`
	LastSignalAtMs     int64              `json:"last_signal_at_ms,omitempty"`
	LastBlockedAtMs    int64              `json:"last_blocked_at_ms,omitempty"`
	Live               LiveSnapshot       `json:"live"`
	PaperPnlSinceReset float64            `json:"paper_pnl_since_reset"`
	LivePnlSinceReset  float64            `json:"live_pnl_since_reset"`
}

// LiveSnapshot is the display view of a live sub-track
type LiveSnapshot struct {
	State         LiveState      `json:"state"`
	CumulativePnl float64        `json:"cumulative_pnl"`
	UnrealizedPnl float64        `json:"unrealized_pnl"`
	BlockedAtMs   int64          `json:"blocked_at_ms,omitempty"`
	OpenTrade     *LiveTrade     `json:"open_trade,omitempty"`
	Trades        []LiveTradeRow `json:"trades"`
}

// TrackSummary is a derived display-only FSM summary per symbol/direction
type TrackSummary struct {
	Symbol     string     `json:"symbol"`
	Direction  Direction  `json:"direction"`
	FsmState   TrackState `json:"fsm_state"`
	Threshold  *float64   `json:"threshold,omitempty"`
	InPosition bool       `json:"in_position"`
	LastPrice  float64    `json:"last_price"`
}

// directionPnl is the signed per-unit PnL for a direction
func directionPnl(dir Direction, entry, price float64) float64 {
	if dir == DirectionLong {
		return price - entry
	}
	return entry - price
}

// minuteBoundaryElapsed reports whether the wall clock has crossed a calendar
// minute boundary since anchorMs. This is deliberately not a fixed 60-second
// cooldown: a lockout started late in a minute clears almost immediately.
func minuteBoundaryElapsed(anchorMs, nowMs int64) bool {
	return nowMs/60000 > anchorMs/60000
}
