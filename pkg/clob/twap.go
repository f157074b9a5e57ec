package clob

// TwapOracle tracks a time-weighted average price over a rolling window.
// Each trade time-weights the previous price over the interval it stood:
//
//	cumulative += lastPrice * (now - lastUpdate)
//
// then records the new price. All timestamps are Unix milliseconds.
type TwapOracle struct {
	LastPrice  int64
	Cumulative int64
	WindowOpen int64 // start of the current averaging window
	LastUpdate int64
	Epoch      int64 // window length in ms; 0 disables resets
}

func newTwapOracle(now, epoch int64) TwapOracle {
	return TwapOracle{WindowOpen: now, LastUpdate: now, Epoch: epoch}
}

// Record folds a trade at the given price and time into the accumulator.
// When the configured epoch has elapsed, the window restarts first so the
// accumulator cannot grow without bound.
func (t *TwapOracle) Record(price, now int64) {
	if t.Epoch > 0 && now-t.WindowOpen >= t.Epoch {
		t.Cumulative = 0
		t.WindowOpen = now
		t.LastUpdate = now
	}
	t.Cumulative += t.LastPrice * (now - t.LastUpdate)
	t.LastPrice = price
	t.LastUpdate = now
}

// Average reports the time-weighted average price as of now, projecting the
// last trade price over the tail of the window. While the elapsed window is
// zero it reports the last trade price directly.
func (t *TwapOracle) Average(now int64) int64 {
	elapsed := now - t.WindowOpen
	if elapsed <= 0 {
		return t.LastPrice
	}
	cum := t.Cumulative + t.LastPrice*(now-t.LastUpdate)
	return cum / elapsed
}
