package exchange

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/quartzex/clob/params"
	"github.com/quartzex/clob/pkg/clob"
	"github.com/quartzex/clob/pkg/storage"
	"github.com/quartzex/clob/pkg/util"
)

// Exchange is the operation surface over one or more order books. Every
// operation resolves the authenticated caller to a slot before touching any
// state, runs to completion under the book's own mutex, and brackets ledger
// mutations with custody transfers.
//
// Books for distinct pairs are fully independent: each has its own mutex and
// shares nothing with the others.
type Exchange struct {
	mu    sync.RWMutex
	books map[string]*bookHandle

	cfg     params.Book
	custody Custody
	store   *storage.Store // nil disables persistence
	clock   util.Clock
	log     *zap.SugaredLogger

	feeCollector common.Address
	initialized  bool

	// OnFill, when set, observes executed fills (websocket feed hook).
	OnFill func(pair string, fills []clob.Fill)
}

type bookHandle struct {
	mu   sync.Mutex
	book *clob.OrderBook
}

func New(cfg params.Book, custody Custody, store *storage.Store, clock util.Clock, logger *zap.Logger) *Exchange {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Exchange{
		books:   make(map[string]*bookHandle),
		cfg:     cfg,
		custody: custody,
		store:   store,
		clock:   clock,
		log:     logger.Sugar(),
	}
}

// Restore loads the global state and all persisted book snapshots.
func (e *Exchange) Restore() error {
	if e.store == nil {
		return nil
	}
	gs, ok, err := e.store.LoadGlobal()
	if err != nil {
		return err
	}
	if ok {
		e.feeCollector = gs.FeeCollector
		e.initialized = true
	}

	pairs, err := e.store.ListPairs()
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, pair := range pairs {
		book, ok, err := e.store.LoadBook(pair)
		if err != nil {
			return err
		}
		if ok {
			e.books[pair] = &bookHandle{book: book}
			e.log.Infow("book_restored", "pair", pair,
				"bids", book.Bids.Count, "asks", book.Asks.Count)
		}
	}
	return nil
}

// InitializeGlobalState binds the fee collector identity. One-shot.
func (e *Exchange) InitializeGlobalState(feeCollector common.Address) error {
	if feeCollector == (common.Address{}) {
		return fmt.Errorf("zero fee collector: %w", clob.ErrValidation)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.initialized {
		return fmt.Errorf("global state already initialized")
	}
	e.feeCollector = feeCollector
	e.initialized = true
	if e.store != nil {
		if err := e.store.SaveGlobal(storage.GlobalState{FeeCollector: feeCollector}); err != nil {
			return err
		}
	}
	e.log.Infow("global_state_initialized", "fee_collector", feeCollector.Hex())
	return nil
}

// InitializeOrderBook creates the book for a pair. Capacities and fee policy
// come from the configuration record fixed at exchange construction.
func (e *Exchange) InitializeOrderBook(base, quote string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.initialized {
		return fmt.Errorf("global state not initialized")
	}
	pair := base + "/" + quote
	if _, exists := e.books[pair]; exists {
		return fmt.Errorf("book %s already exists", pair)
	}
	book, err := clob.NewOrderBook(base, quote, clob.Config{
		Depth:         e.cfg.Depth,
		MakerCapacity: e.cfg.MakerCapacity,
		FeeBps:        e.cfg.FeeBps,
		FeeCollector:  e.feeCollector,
		TwapEpoch:     e.cfg.TwapEpoch,
	}, e.now())
	if err != nil {
		return err
	}
	h := &bookHandle{book: book}
	e.books[pair] = h
	e.persist(h)
	e.log.Infow("book_initialized", "pair", pair, "depth", e.cfg.Depth,
		"maker_capacity", e.cfg.MakerCapacity, "fee_bps", e.cfg.FeeBps)
	return nil
}

func (e *Exchange) handle(pair string) (*bookHandle, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	h, ok := e.books[pair]
	if !ok {
		return nil, fmt.Errorf("book %s: %w", pair, clob.ErrNotFound)
	}
	return h, nil
}

func (e *Exchange) now() int64 {
	return e.clock.Now().UnixMilli()
}

// authorize checks that the caller owns the slot before anything is mutated.
func authorize(book *clob.OrderBook, slot int, caller common.Address) error {
	if slot < 0 || slot >= len(book.Makers) {
		return fmt.Errorf("slot %d: %w", slot, clob.ErrInvalidIndex)
	}
	owner := book.Makers[slot].Authority
	if owner == (common.Address{}) {
		return fmt.Errorf("slot %d unbound: %w", slot, clob.ErrNotRegistered)
	}
	if owner != caller {
		return fmt.Errorf("slot %d belongs to %s: %w", slot, owner.Hex(), clob.ErrUnauthorized)
	}
	return nil
}

// persist snapshots a book; the in-memory state stays authoritative if the
// write fails.
func (e *Exchange) persist(h *bookHandle) {
	if e.store == nil {
		return
	}
	if err := e.store.SaveBook(h.book); err != nil {
		e.log.Warnw("book_snapshot_failed", "pair", h.book.Pair(), "err", err)
	}
}

func (e *Exchange) recordFills(pair string, fills []clob.Fill) {
	if len(fills) == 0 {
		return
	}
	if e.store != nil {
		if err := e.store.SaveFills(pair, fills); err != nil {
			e.log.Warnw("fill_history_failed", "pair", pair, "err", err)
		}
	}
	if e.OnFill != nil {
		e.OnFill(pair, fills)
	}
}

// AddMarketMaker binds an identity to a registry slot on a book.
func (e *Exchange) AddMarketMaker(pair string, authority common.Address, index int) error {
	h, err := e.handle(pair)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.book.AddMarketMaker(authority, index); err != nil {
		return err
	}
	e.persist(h)
	e.log.Infow("market_maker_added", "pair", pair, "authority", authority.Hex(), "index", index)
	return nil
}

// TopUpBalance moves funds from the caller's wallet into custody and credits
// the slot's free balances. The transfer-in happens first; a failed second leg
// is compensated by returning the first, so the ledger only moves when both
// legs cleared.
func (e *Exchange) TopUpBalance(pair string, caller common.Address, slot int, baseAmt, quoteAmt int64) error {
	if baseAmt < 0 || quoteAmt < 0 {
		return fmt.Errorf("negative top up base=%d quote=%d: %w", baseAmt, quoteAmt, clob.ErrValidation)
	}
	h, err := e.handle(pair)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := authorize(h.book, slot, caller); err != nil {
		return err
	}

	if baseAmt > 0 {
		if err := e.custody.TransferIn(caller, h.book.Base, baseAmt); err != nil {
			return fmt.Errorf("base transfer in: %w", err)
		}
	}
	if quoteAmt > 0 {
		if err := e.custody.TransferIn(caller, h.book.Quote, quoteAmt); err != nil {
			if baseAmt > 0 {
				e.compensateOut(h.book.Base, baseAmt, caller)
			}
			return fmt.Errorf("quote transfer in: %w", err)
		}
	}
	if err := h.book.Deposit(slot, baseAmt, quoteAmt); err != nil {
		// Unreachable after authorize + amount validation; return the funds.
		if baseAmt > 0 {
			e.compensateOut(h.book.Base, baseAmt, caller)
		}
		if quoteAmt > 0 {
			e.compensateOut(h.book.Quote, quoteAmt, caller)
		}
		return err
	}
	e.persist(h)
	e.log.Infow("balance_topped_up", "pair", pair, "slot", slot, "base", baseAmt, "quote", quoteAmt)
	return nil
}

// WithdrawBalance debits the slot's free balances and pays the caller out of
// custody. A failed transfer leg is compensated by re-crediting that leg.
func (e *Exchange) WithdrawBalance(pair string, caller common.Address, slot int, baseAmt, quoteAmt int64) error {
	h, err := e.handle(pair)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := authorize(h.book, slot, caller); err != nil {
		return err
	}
	if err := h.book.Withdraw(slot, baseAmt, quoteAmt); err != nil {
		return err
	}

	if baseAmt > 0 {
		if err := e.custody.TransferOut(h.book.Base, baseAmt, caller); err != nil {
			_ = h.book.Deposit(slot, baseAmt, quoteAmt)
			return fmt.Errorf("base transfer out: %w", err)
		}
	}
	if quoteAmt > 0 {
		if err := e.custody.TransferOut(h.book.Quote, quoteAmt, caller); err != nil {
			_ = h.book.Deposit(slot, 0, quoteAmt)
			return fmt.Errorf("quote transfer out (base leg settled): %w", err)
		}
	}
	e.persist(h)
	e.log.Infow("balance_withdrawn", "pair", pair, "slot", slot, "base", baseAmt, "quote", quoteAmt)
	return nil
}

// SubmitLimitOrder places a rest-or-match order for a registered slot.
func (e *Exchange) SubmitLimitOrder(pair string, caller common.Address, side clob.Side, amount, price int64, refID uint32, slot int) ([]clob.Fill, error) {
	h, err := e.handle(pair)
	if err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := authorize(h.book, slot, caller); err != nil {
		return nil, err
	}
	fills, err := h.book.SubmitLimitOrder(side, amount, price, refID, slot, e.now())
	if err != nil {
		return nil, err
	}
	e.persist(h)
	e.recordFills(pair, fills)
	e.log.Infow("limit_order_submitted", "pair", pair, "side", side.String(),
		"amount", amount, "price", price, "ref", refID, "slot", slot, "fills", len(fills))
	return fills, nil
}

// SubmitTakeOrder fills an all-or-nothing immediate order for any caller with
// wallet funds. The plan is computed first, then the custody legs settle, then
// the book mutates; a failed out-leg refunds the in-leg and leaves the book
// untouched.
func (e *Exchange) SubmitTakeOrder(pair string, caller common.Address, side clob.Side, amountIn, minOut int64) ([]clob.Fill, error) {
	h, err := e.handle(pair)
	if err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	plan, err := h.book.PlanTakeOrder(side, amountIn, minOut)
	if err != nil {
		return nil, err
	}

	inAsset, outAsset := h.book.Quote, h.book.Base
	if side == clob.Sell {
		inAsset, outAsset = h.book.Base, h.book.Quote
	}
	if err := e.custody.TransferIn(caller, inAsset, plan.AmountIn); err != nil {
		return nil, fmt.Errorf("take order transfer in: %w", err)
	}
	if err := e.custody.TransferOut(outAsset, plan.PayOut, caller); err != nil {
		e.compensateOut(inAsset, plan.AmountIn, caller)
		return nil, fmt.Errorf("take order transfer out: %w", err)
	}

	fills := h.book.ApplyTakeOrder(plan, e.now())
	e.persist(h)
	e.recordFills(pair, fills)
	e.log.Infow("take_order_filled", "pair", pair, "side", side.String(),
		"amount_in", plan.AmountIn, "payout", plan.PayOut, "fee", plan.Fee, "fills", len(fills))
	return fills, nil
}

// CancelLimitOrder removes a resting order and restores its lock.
func (e *Exchange) CancelLimitOrder(pair string, caller common.Address, side clob.Side, index, slot int) error {
	h, err := e.handle(pair)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := authorize(h.book, slot, caller); err != nil {
		return err
	}
	if err := h.book.CancelLimitOrder(side, index, slot); err != nil {
		return err
	}
	e.persist(h)
	e.log.Infow("order_cancelled", "pair", pair, "side", side.String(), "index", index, "slot", slot)
	return nil
}

// CollectFees pays accrued fees out to the fee collector.
func (e *Exchange) CollectFees(pair string, caller common.Address) (base, quote int64, err error) {
	h, err := e.handle(pair)
	if err != nil {
		return 0, 0, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if caller != h.book.FeeCollector {
		return 0, 0, fmt.Errorf("fees belong to %s: %w", h.book.FeeCollector.Hex(), clob.ErrUnauthorized)
	}

	base, quote = h.book.CollectFees()
	if base > 0 {
		if err := e.custody.TransferOut(h.book.Base, base, caller); err != nil {
			h.book.FeesBase += base
			h.book.FeesQuote += quote
			h.book.VaultBase += base
			h.book.VaultQuote += quote
			return 0, 0, fmt.Errorf("base fee transfer: %w", err)
		}
	}
	if quote > 0 {
		if err := e.custody.TransferOut(h.book.Quote, quote, caller); err != nil {
			h.book.FeesQuote += quote
			h.book.VaultQuote += quote
			return base, 0, fmt.Errorf("quote fee transfer (base settled): %w", err)
		}
	}
	e.persist(h)
	e.log.Infow("fees_collected", "pair", pair, "base", base, "quote", quote)
	return base, quote, nil
}

// compensateOut returns funds to a caller after a failed saga leg. A failure
// here means custody itself is broken; log loudly, nothing else to do.
func (e *Exchange) compensateOut(asset string, amount int64, to common.Address) {
	if err := e.custody.TransferOut(asset, amount, to); err != nil {
		e.log.Errorw("compensation_failed", "asset", asset, "amount", amount,
			"to", to.Hex(), "err", err)
	}
}

// GetOrderIndex looks up a resting order by (slot, reference id).
func (e *Exchange) GetOrderIndex(pair string, side clob.Side, refID uint32, slot int) (int, error) {
	h, err := e.handle(pair)
	if err != nil {
		return 0, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.book.GetOrderIndex(side, refID, slot)
}

// GetBestOrders returns one side of a book in matching order.
func (e *Exchange) GetBestOrders(pair string, side clob.Side) ([]clob.Order, error) {
	h, err := e.handle(pair)
	if err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.book.GetBestOrders(side), nil
}

// GetMarketMakerBalances resolves an identity and returns its free balances.
func (e *Exchange) GetMarketMakerBalances(pair string, authority common.Address) (base, quote int64, err error) {
	h, err := e.handle(pair)
	if err != nil {
		return 0, 0, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.book.MakerBalances(authority)
}

// GetTwap reports the time-weighted average price and the last trade price.
func (e *Exchange) GetTwap(pair string) (average, lastPrice int64, err error) {
	h, err := e.handle(pair)
	if err != nil {
		return 0, 0, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.book.Twap.Average(e.now()), h.book.Twap.LastPrice, nil
}

// RecentFills returns recent executed fills for a pair, newest first.
func (e *Exchange) RecentFills(pair string, limit int) ([]clob.Fill, error) {
	if e.store == nil {
		return nil, nil
	}
	return e.store.RecentFills(pair, limit)
}

// Pairs returns the pairs with live books.
func (e *Exchange) Pairs() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	pairs := make([]string, 0, len(e.books))
	for p := range e.books {
		pairs = append(pairs, p)
	}
	return pairs
}
