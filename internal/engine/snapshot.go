package engine

// buildSnapshot assembles the display-facing engine view. It runs on the
// event loop, so it sees a consistent state; mutable values are copied so
// broadcast consumers never race the loop.
func (e *Engine) buildSnapshot() EngineSnapshot {
	prices := make(map[string]float64, len(e.prices))
	for symbol, price := range e.prices {
		prices[symbol] = price
	}

	long := e.trackSnapshot(e.long)
	short := e.trackSnapshot(e.short)

	return EngineSnapshot{
		Timestamp:          e.now().UnixMilli(),
		LastResetDate:      e.lastResetDate,
		LastResetTimestamp: e.lastResetTimestamp,
		Prices:             prices,
		Long:               long,
		Short:              short,
		Summaries: []TrackSummary{
			e.trackSummary(e.long),
			e.trackSummary(e.short),
		},
	}
}

func (e *Engine) trackSnapshot(t *Track) TrackSnapshot {
	snap := TrackSnapshot{
		Direction:          t.Direction,
		FsmState:           t.State,
		Threshold:          copyFloat(t.Threshold),
		PaperTradeHistory:  t.PaperHistory,
		PeakPnlHistory:     t.PeakPnlHistory,
		CurrentPeakPnl:     copyFloat(t.CurrentPeakPnl),
		Signals:            t.Signals,
		LastSignalAtMs:     t.LastSignalAtMs,
		LastBlockedAtMs:    t.LastBlockedAtMs,
		PaperPnlSinceReset: e.paperPnlSinceReset(t),
		LivePnlSinceReset:  e.livePnlSinceReset(t),
		Live: LiveSnapshot{
			State:         t.Live.State,
			CumulativePnl: t.Live.CumulativePnl,
			UnrealizedPnl: t.Live.UnrealizedPnl,
			BlockedAtMs:   t.Live.BlockedAtMs,
			Trades:        t.Live.Trades,
		},
	}

	// Open trades are mutated every tick, copy them by value
	if t.Paper != nil {
		paper := *t.Paper
		snap.PaperTrade = &paper
	}
	if t.Live.OpenTrade != nil {
		live := *t.Live.OpenTrade
		snap.Live.OpenTrade = &live
	}

	return snap
}

func (e *Engine) trackSummary(t *Track) TrackSummary {
	return TrackSummary{
		Symbol:     e.cfg.TradedSymbol,
		Direction:  t.Direction,
		FsmState:   t.State,
		Threshold:  copyFloat(t.Threshold),
		InPosition: t.State == t.positionState(),
		LastPrice:  e.prices[e.cfg.TradedSymbol],
	}
}

// paperPnlSinceReset sums realized paper PnL from closes after the last
// daily reset. Older history stays visible but is excluded from the figure.
func (e *Engine) paperPnlSinceReset(t *Track) float64 {
	sum := 0.0
	for _, closed := range t.PaperHistory {
		if closed.ClosedAt > e.lastResetTimestamp {
			sum += closed.RealizedPnl
		}
	}
	return sum
}

// livePnlSinceReset sums realized PnL from EXIT rows closed after the last
// daily reset
func (e *Engine) livePnlSinceReset(t *Track) float64 {
	sum := 0.0
	for _, row := range t.Live.Trades {
		if row.Kind == ExecutionExit && row.RealizedPnl != nil && row.At > e.lastResetTimestamp {
			sum += *row.RealizedPnl
		}
	}
	return sum
}

func copyFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
