package clob

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Default capacities and fee rate. Both capacities are bound at book creation
// and never grow; a full structure rejects further entries.
const (
	DefaultDepth         = 128
	DefaultMakerCapacity = 64
	DefaultFeeBps        = 15
)

// Config is the configuration record bound to a book at creation. There is no
// process-wide state: every book carries its own copy.
type Config struct {
	Depth         int            // max resting orders per side
	MakerCapacity int            // market maker slot table size
	FeeBps        int64          // taker fee in basis points of proceeds
	FeeCollector  common.Address // identity entitled to accrued fees
	TwapEpoch     time.Duration  // TWAP window reset period; 0 disables
}

func DefaultConfig() Config {
	return Config{
		Depth:         DefaultDepth,
		MakerCapacity: DefaultMakerCapacity,
		FeeBps:        DefaultFeeBps,
		TwapEpoch:     24 * time.Hour,
	}
}

// MarketMaker is one registry slot: an identity plus its free balances.
// Free balances exclude amounts locked in resting orders. A zero authority
// means the slot is unbound.
type MarketMaker struct {
	Authority common.Address
	Base      int64
	Quote     int64
}

// OrderBook is the complete persisted record for one base/quote pair: both
// sides of the book, the market maker slot table, the TWAP oracle, the
// aggregate vault snapshot per asset, and accrued fees.
//
// All operations run to completion with no interleaving; callers serialize
// access per book. Distinct books share nothing.
type OrderBook struct {
	Base  string
	Quote string

	Bids OrderList
	Asks OrderList

	Makers []MarketMaker

	Twap TwapOracle

	// Aggregate custody snapshot per asset. Invariant: for each asset,
	// vault == sum of free balances + amounts locked in resting orders
	// + accrued fees.
	VaultBase  int64
	VaultQuote int64

	// Fees accrued to the fee collector, withdrawable via CollectFees.
	FeesBase  int64
	FeesQuote int64

	FeeCollector common.Address
	FeeBps       int64

	NextSeq uint64
}

// NewOrderBook creates an empty book for the pair with the given configuration.
func NewOrderBook(base, quote string, cfg Config, now int64) (*OrderBook, error) {
	if base == "" || quote == "" || base == quote {
		return nil, fmt.Errorf("bad pair %q/%q: %w", base, quote, ErrValidation)
	}
	if cfg.Depth <= 0 || cfg.MakerCapacity <= 0 {
		return nil, fmt.Errorf("bad capacities depth=%d makers=%d: %w", cfg.Depth, cfg.MakerCapacity, ErrValidation)
	}
	if cfg.FeeBps < 0 || cfg.FeeBps >= 10000 {
		return nil, fmt.Errorf("bad fee %d bps: %w", cfg.FeeBps, ErrValidation)
	}
	return &OrderBook{
		Base:         base,
		Quote:        quote,
		Bids:         newOrderList(Buy, cfg.Depth),
		Asks:         newOrderList(Sell, cfg.Depth),
		Makers:       make([]MarketMaker, cfg.MakerCapacity),
		Twap:         newTwapOracle(now, cfg.TwapEpoch.Milliseconds()),
		FeeCollector: cfg.FeeCollector,
		FeeBps:       cfg.FeeBps,
		NextSeq:      1,
	}, nil
}

// Pair returns the book's canonical pair key.
func (b *OrderBook) Pair() string {
	return b.Base + "/" + b.Quote
}

func (b *OrderBook) list(side Side) *OrderList {
	if side == Buy {
		return &b.Bids
	}
	return &b.Asks
}

// AddMarketMaker binds an identity to a slot. Re-binding the same identity to
// its own slot is a no-op; a slot held by someone else is refused.
func (b *OrderBook) AddMarketMaker(authority common.Address, index int) error {
	if authority == (common.Address{}) {
		return fmt.Errorf("zero authority: %w", ErrValidation)
	}
	if index < 0 || index >= len(b.Makers) {
		return fmt.Errorf("index %d outside %d slots: %w", index, len(b.Makers), ErrInvalidIndex)
	}
	cur := b.Makers[index].Authority
	if cur != (common.Address{}) && cur != authority {
		return fmt.Errorf("slot %d held by %s: %w", index, cur.Hex(), ErrSlotOccupied)
	}
	b.Makers[index].Authority = authority
	return nil
}

// SlotOf resolves an identity to its slot index.
func (b *OrderBook) SlotOf(authority common.Address) (int, error) {
	if authority == (common.Address{}) {
		return 0, fmt.Errorf("zero authority: %w", ErrNotRegistered)
	}
	for i := range b.Makers {
		if b.Makers[i].Authority == authority {
			return i, nil
		}
	}
	return 0, fmt.Errorf("%s has no slot: %w", authority.Hex(), ErrNotRegistered)
}

// MakerBalances returns the free balances for a registered identity.
func (b *OrderBook) MakerBalances(authority common.Address) (base, quote int64, err error) {
	slot, err := b.SlotOf(authority)
	if err != nil {
		return 0, 0, err
	}
	return b.Makers[slot].Base, b.Makers[slot].Quote, nil
}

// maker returns the slot if it is in range and bound.
func (b *OrderBook) maker(slot int) (*MarketMaker, error) {
	if slot < 0 || slot >= len(b.Makers) {
		return nil, fmt.Errorf("slot %d outside %d slots: %w", slot, len(b.Makers), ErrInvalidIndex)
	}
	m := &b.Makers[slot]
	if m.Authority == (common.Address{}) {
		return nil, fmt.Errorf("slot %d unbound: %w", slot, ErrNotRegistered)
	}
	return m, nil
}

// Deposit credits a slot's free balances and the vault snapshot. The caller
// pairs it with a custody transfer-in of the same magnitude.
func (b *OrderBook) Deposit(slot int, baseAmt, quoteAmt int64) error {
	if baseAmt < 0 || quoteAmt < 0 {
		return fmt.Errorf("negative deposit base=%d quote=%d: %w", baseAmt, quoteAmt, ErrValidation)
	}
	m, err := b.maker(slot)
	if err != nil {
		return err
	}
	m.Base += baseAmt
	m.Quote += quoteAmt
	b.VaultBase += baseAmt
	b.VaultQuote += quoteAmt
	return nil
}

// Withdraw debits a slot's free balances and the vault snapshot. Both legs are
// checked before either is touched, so a failure changes nothing. The caller
// pairs it with a custody transfer-out of the same magnitude.
func (b *OrderBook) Withdraw(slot int, baseAmt, quoteAmt int64) error {
	if baseAmt < 0 || quoteAmt < 0 {
		return fmt.Errorf("negative withdrawal base=%d quote=%d: %w", baseAmt, quoteAmt, ErrValidation)
	}
	m, err := b.maker(slot)
	if err != nil {
		return err
	}
	if m.Base < baseAmt || m.Quote < quoteAmt {
		return fmt.Errorf("free base=%d quote=%d, want base=%d quote=%d: %w",
			m.Base, m.Quote, baseAmt, quoteAmt, ErrInsufficientBalance)
	}
	m.Base -= baseAmt
	m.Quote -= quoteAmt
	b.VaultBase -= baseAmt
	b.VaultQuote -= quoteAmt
	return nil
}

// CollectFees drains the accrued fee balances and debits the vault snapshot.
// The caller pairs it with a custody transfer-out to the fee collector.
func (b *OrderBook) CollectFees() (base, quote int64) {
	base, quote = b.FeesBase, b.FeesQuote
	b.FeesBase = 0
	b.FeesQuote = 0
	b.VaultBase -= base
	b.VaultQuote -= quote
	return base, quote
}

// lockedTotals sums the amounts locked in resting orders per asset:
// each bid locks amount*price quote, each ask locks amount base.
func (b *OrderBook) lockedTotals() (base, quote int64) {
	for i := 0; i < b.Bids.Count; i++ {
		quote += b.Bids.Orders[i].Amount * b.Bids.Orders[i].Price
	}
	for i := 0; i < b.Asks.Count; i++ {
		base += b.Asks.Orders[i].Amount
	}
	return base, quote
}

// CheckConservation verifies the custody invariant: per asset, the vault
// snapshot equals the sum of free balances, locked resting amounts, and
// accrued fees.
func (b *OrderBook) CheckConservation() error {
	var freeBase, freeQuote int64
	for i := range b.Makers {
		if b.Makers[i].Base < 0 || b.Makers[i].Quote < 0 {
			return fmt.Errorf("slot %d negative balance base=%d quote=%d", i, b.Makers[i].Base, b.Makers[i].Quote)
		}
		freeBase += b.Makers[i].Base
		freeQuote += b.Makers[i].Quote
	}
	lockedBase, lockedQuote := b.lockedTotals()
	if got := freeBase + lockedBase + b.FeesBase; got != b.VaultBase {
		return fmt.Errorf("base vault %d != free %d + locked %d + fees %d", b.VaultBase, freeBase, lockedBase, b.FeesBase)
	}
	if got := freeQuote + lockedQuote + b.FeesQuote; got != b.VaultQuote {
		return fmt.Errorf("quote vault %d != free %d + locked %d + fees %d", b.VaultQuote, freeQuote, lockedQuote, b.FeesQuote)
	}
	return nil
}
