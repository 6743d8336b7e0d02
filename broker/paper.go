package broker

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/reedholm/tradeloop/ledger"
	"github.com/reedholm/tradeloop/pkg/id"
	"github.com/reedholm/tradeloop/strategy"
)

// PaperBroker tracks at most one position per symbol in memory and
// realizes PnL with a bps cost model. It never routes orders anywhere.
type PaperBroker struct {
	mu sync.Mutex

	feeBps      float64
	slippageBps float64

	positions   map[string]Position
	lastCloseTS map[string]int64

	cumRealizedUSD float64
	tradesClosed   int

	log *slog.Logger
}

// NewPaper returns a flat paper broker with the given cost model.
func NewPaper(feeBps, slippageBps float64, log *slog.Logger) *PaperBroker {
	if log == nil {
		log = slog.Default()
	}
	return &PaperBroker{
		feeBps:      feeBps,
		slippageBps: slippageBps,
		positions:   make(map[string]Position),
		lastCloseTS: make(map[string]int64),
		log:         log.With("component", "paper_broker"),
	}
}

func (b *PaperBroker) Position(symbol string) (Position, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.positions[symbol]
	return p, ok
}

func (b *PaperBroker) OpenPosition(req OpenRequest) OpenResult {
	b.mu.Lock()
	defer b.mu.Unlock()

	if existing, ok := b.positions[req.Symbol]; ok {
		b.log.Warn("refusing to open: position already exists",
			"symbol", req.Symbol, "existing_side", existing.Side, "existing_qty", existing.Qty)
		return OpenResult{BlockReason: "position_exists"}
	}
	if req.Qty <= 0 || req.EntryPrice <= 0 {
		b.log.Warn("refusing to open: bad inputs",
			"symbol", req.Symbol, "qty", req.Qty, "entry_price", req.EntryPrice)
		return OpenResult{BlockReason: "bad_inputs"}
	}

	b.positions[req.Symbol] = Position{
		Symbol:         req.Symbol,
		Side:           req.Side,
		Qty:            req.Qty,
		EntryPrice:     req.EntryPrice,
		EntryTS:        req.EntryTS,
		StopPrice:      req.StopPrice,
		TrailingAnchor: req.TrailingAnchor,
	}

	b.log.Info("position opened",
		"symbol", req.Symbol, "side", req.Side, "qty", req.Qty,
		"entry_price", req.EntryPrice, "entry_ts_ms", req.EntryTS,
		"reason", req.Reason)
	return OpenResult{Opened: true}
}

func (b *PaperBroker) UpdateStop(symbol string, newStop float64, newAnchor *float64) (Position, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, ok := b.positions[symbol]
	if !ok {
		b.log.Warn("update_stop with no position", "symbol", symbol)
		return Position{}, false
	}

	if p.StopPrice != nil {
		loosens := (p.Side == strategy.SideLong && newStop < *p.StopPrice) ||
			(p.Side == strategy.SideShort && newStop > *p.StopPrice)
		if loosens {
			b.log.Warn("rejecting loosening stop update",
				"symbol", symbol, "side", p.Side, "current_stop", *p.StopPrice, "new_stop", newStop)
			return p, true
		}
	}

	p.StopPrice = &newStop
	if newAnchor != nil {
		p.TrailingAnchor = newAnchor
	}
	b.positions[symbol] = p
	return p, true
}

func (b *PaperBroker) CooldownRemainingBars(symbol string, nowTS int64, expectedStepS, cooldownBars int) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if cooldownBars <= 0 || expectedStepS <= 0 {
		return 0
	}
	last, ok := b.lastCloseTS[symbol]
	if !ok || nowTS <= 0 || nowTS < last {
		return 0
	}
	elapsed := (nowTS - last) / int64(expectedStepS*1000)
	remaining := int64(cooldownBars) - elapsed
	if remaining < 0 {
		return 0
	}
	return int(remaining)
}

func (b *PaperBroker) UnrealizedPnL(symbol string, lastPrice float64) (usd, pct float64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, ok := b.positions[symbol]
	if !ok || p.EntryPrice <= 0 || lastPrice <= 0 {
		return 0, 0
	}
	if p.Side == strategy.SideLong {
		usd = (lastPrice - p.EntryPrice) * p.Qty
	} else {
		usd = (p.EntryPrice - lastPrice) * p.Qty
	}
	pct = usd / (p.EntryPrice * p.Qty) * 100
	return usd, pct
}

func (b *PaperBroker) RealizeAndClose(symbol string, exitPrice float64, reason string, exitTS int64) (ledger.TradeRecord, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, ok := b.positions[symbol]
	if !ok {
		return ledger.TradeRecord{}, fmt.Errorf("realize_and_close: no position for %s", symbol)
	}

	entryNotional := p.EntryPrice * p.Qty
	exitNotional := exitPrice * p.Qty

	var gross float64
	if p.Side == strategy.SideLong {
		gross = (exitPrice - p.EntryPrice) * p.Qty
	} else {
		gross = (p.EntryPrice - exitPrice) * p.Qty
	}

	cost := (b.feeBps + b.slippageBps) / 1e4 * (entryNotional + exitNotional)
	net := gross - cost

	var pct float64
	if entryNotional > 0 {
		pct = net / entryNotional * 100
	}

	delete(b.positions, symbol)
	b.lastCloseTS[symbol] = exitTS
	b.cumRealizedUSD += net
	b.tradesClosed++

	trade := ledger.TradeRecord{
		TradeID:           id.New(),
		Symbol:            symbol,
		Side:              string(p.Side),
		Qty:               p.Qty,
		EntryPrice:        p.EntryPrice,
		EntryTS:           p.EntryTS,
		ExitPrice:         exitPrice,
		ExitTS:            exitTS,
		StopPrice:         p.StopPrice,
		FeeBps:            b.feeBps,
		SlippageBps:       b.slippageBps,
		CostUSD:           cost,
		RealizedPnLUSD:    net,
		RealizedPnLPct:    pct,
		CumRealizedPnLUSD: b.cumRealizedUSD,
		TradesClosed:      b.tradesClosed,
		Reason:            reason,
	}

	b.log.Info("position closed",
		"symbol", symbol, "side", p.Side, "qty", p.Qty,
		"entry_price", p.EntryPrice, "exit_price", exitPrice,
		"pnl_usd", net, "cum_pnl_usd", b.cumRealizedUSD, "reason", reason)

	return trade, nil
}
