package clob

import "fmt"

// Fill is one executed match. Fills are an internal byproduct of matching,
// surfaced for logging, persistence, and feeds; they are not part of the
// book's external contract.
type Fill struct {
	Price     int64 // the resting (maker) order's price
	Qty       int64 // base units filled
	MakerSlot int
	TakerSlot int  // -1 when the taker settled through custody (take orders)
	TakerSide Side // the taker's side
	Time      int64
}

// crosses reports whether a taker at the given limit matches a resting price.
func crosses(takerSide Side, limit, resting int64) bool {
	if takerSide == Buy {
		return resting <= limit
	}
	return resting >= limit
}

// fee returns floor(proceeds * FeeBps / 10000), the taker fee on one match.
func (b *OrderBook) fee(proceeds int64) int64 {
	return proceeds * b.FeeBps / 10000
}

// SubmitLimitOrder locks the order's full cost up front (amount*price quote
// for a buy, amount base for a sell), matches against the opposite side best
// price first and earliest sequence within a price, settles each match
// incrementally at the maker's price, and rests any remainder at its sorted
// position. The lock stays with the resting remainder until it fills or is
// cancelled.
//
// The call is all-or-nothing: balance and capacity are verified before any
// state is touched, so an error means nothing changed.
func (b *OrderBook) SubmitLimitOrder(side Side, amount, price int64, refID uint32, slot int, now int64) ([]Fill, error) {
	if !side.Valid() || amount <= 0 || price <= 0 {
		return nil, fmt.Errorf("limit order side=%d amount=%d price=%d: %w", side, amount, price, ErrValidation)
	}
	taker, err := b.maker(slot)
	if err != nil {
		return nil, err
	}

	own := b.list(side)
	opp := b.list(side.Opposite())

	// How much the opposite side can absorb at crossing prices. If a
	// remainder would rest on a full side, refuse before mutating anything.
	absorbable := int64(0)
	for i := 0; i < opp.Count && absorbable < amount; i++ {
		if !crosses(side, price, opp.Orders[i].Price) {
			break
		}
		absorbable += opp.Orders[i].Amount
	}
	if absorbable < amount && own.Full() {
		return nil, fmt.Errorf("%s side full: %w", side, ErrCapacityExceeded)
	}

	// Take the lock.
	if side == Buy {
		lock := amount * price
		if taker.Quote < lock {
			return nil, fmt.Errorf("quote free=%d lock=%d: %w", taker.Quote, lock, ErrInsufficientBalance)
		}
		taker.Quote -= lock
	} else {
		if taker.Base < amount {
			return nil, fmt.Errorf("base free=%d lock=%d: %w", taker.Base, amount, ErrInsufficientBalance)
		}
		taker.Base -= amount
	}

	var fills []Fill
	remaining := amount
	for remaining > 0 && opp.Count > 0 && crosses(side, price, opp.Orders[0].Price) {
		rest := &opp.Orders[0]
		qty := remaining
		if rest.Amount < qty {
			qty = rest.Amount
		}
		tradePrice := rest.Price
		notional := qty * tradePrice

		if side == Buy {
			// Seller-maker receives quote; buyer-taker receives base net
			// of the fee, plus a refund of the price improvement against
			// the lock taken at the limit price.
			b.Makers[rest.Owner].Quote += notional
			feeBase := b.fee(qty)
			taker.Base += qty - feeBase
			b.FeesBase += feeBase
			taker.Quote += qty * (price - tradePrice)
		} else {
			// Buyer-maker receives base; seller-taker receives the quote
			// notional net of the fee.
			b.Makers[rest.Owner].Base += qty
			feeQuote := b.fee(notional)
			taker.Quote += notional - feeQuote
			b.FeesQuote += feeQuote
		}

		b.Twap.Record(tradePrice, now)
		fills = append(fills, Fill{
			Price:     tradePrice,
			Qty:       qty,
			MakerSlot: rest.Owner,
			TakerSlot: slot,
			TakerSide: side,
			Time:      now,
		})

		rest.Amount -= qty
		if rest.Amount == 0 {
			opp.removeAt(0)
		}
		remaining -= qty
	}

	if remaining > 0 {
		o := Order{Price: price, Amount: remaining, RefID: refID, Owner: slot, Seq: b.NextSeq}
		if err := own.insert(o); err != nil {
			return fills, err
		}
		b.NextSeq++
	}
	return fills, nil
}

// TakePlan is a fully computed take order: which resting orders it consumes
// and what moves through custody. Plans are applied under the same serialized
// operation that produced them, so the book cannot change in between.
type TakePlan struct {
	Side     Side
	AmountIn int64 // asset the taker sends: quote for a buy, base for a sell
	Proceeds int64 // gross asset out before fees
	Fee      int64 // taker fee, in the out asset
	PayOut   int64 // Proceeds - Fee, owed to the taker

	fills []Fill
}

// PlanTakeOrder computes an all-or-nothing immediate order without touching
// the book. amountIn is denominated in the asset the taker sends (quote for a
// buy, base for a sell); minOut is the least amount of the opposite asset the
// taker will accept after fees.
//
// The whole input must be consumable against resting orders, best price
// first; any unfillable remainder fails the call with ErrInsufficientLiquidity.
func (b *OrderBook) PlanTakeOrder(side Side, amountIn, minOut int64) (*TakePlan, error) {
	if !side.Valid() || amountIn <= 0 || minOut < 0 {
		return nil, fmt.Errorf("take order side=%d in=%d bound=%d: %w", side, amountIn, minOut, ErrValidation)
	}

	opp := b.list(side.Opposite())
	plan := &TakePlan{Side: side, AmountIn: amountIn}
	remaining := amountIn

	for i := 0; i < opp.Count && remaining > 0; i++ {
		rest := opp.Orders[i]
		var qty int64
		if side == Buy {
			// Spending quote: a whole number of base units at this price.
			qty = remaining / rest.Price
			if qty == 0 {
				break
			}
			if rest.Amount < qty {
				qty = rest.Amount
			}
			remaining -= qty * rest.Price
			plan.Proceeds += qty
		} else {
			qty = remaining
			if rest.Amount < qty {
				qty = rest.Amount
			}
			remaining -= qty
			plan.Proceeds += qty * rest.Price
		}
		plan.fills = append(plan.fills, Fill{
			Price:     rest.Price,
			Qty:       qty,
			MakerSlot: rest.Owner,
			TakerSlot: -1,
			TakerSide: side,
		})
	}

	if remaining > 0 {
		return nil, fmt.Errorf("%d of %d unfilled: %w", remaining, amountIn, ErrInsufficientLiquidity)
	}

	plan.Fee = b.fee(plan.Proceeds)
	plan.PayOut = plan.Proceeds - plan.Fee
	if plan.PayOut < minOut {
		return nil, fmt.Errorf("payout %d below bound %d: %w", plan.PayOut, minOut, ErrSlippageExceeded)
	}
	return plan, nil
}

// ApplyTakeOrder commits a plan: credits each maker's opposite asset, updates
// the TWAP oracle per match, removes exhausted orders, accrues the fee, and
// moves the vault snapshot by the custody legs. Apply cannot fail; callers
// complete custody transfers first so a failed transfer leaves the book
// untouched.
func (b *OrderBook) ApplyTakeOrder(plan *TakePlan, now int64) []Fill {
	opp := b.list(plan.Side.Opposite())
	fills := make([]Fill, len(plan.fills))

	for i, f := range plan.fills {
		rest := &opp.Orders[0]
		if plan.Side == Buy {
			b.Makers[rest.Owner].Quote += f.Qty * f.Price
		} else {
			b.Makers[rest.Owner].Base += f.Qty
		}
		b.Twap.Record(f.Price, now)

		rest.Amount -= f.Qty
		if rest.Amount == 0 {
			opp.removeAt(0)
		}
		f.Time = now
		fills[i] = f
	}

	if plan.Side == Buy {
		b.VaultQuote += plan.AmountIn
		b.VaultBase -= plan.PayOut
		b.FeesBase += plan.Fee
	} else {
		b.VaultBase += plan.AmountIn
		b.VaultQuote -= plan.PayOut
		b.FeesQuote += plan.Fee
	}
	return fills
}

// SubmitTakeOrder plans and applies in one step, for callers that settle the
// taker's custody legs out of band.
func (b *OrderBook) SubmitTakeOrder(side Side, amountIn, minOut, now int64) ([]Fill, *TakePlan, error) {
	plan, err := b.PlanTakeOrder(side, amountIn, minOut)
	if err != nil {
		return nil, nil, err
	}
	fills := b.ApplyTakeOrder(plan, now)
	return fills, plan, nil
}

// CancelLimitOrder removes the order at index on the given side and credits
// its remaining lock back to the owner's free balance: quote for a bid, base
// for an ask.
func (b *OrderBook) CancelLimitOrder(side Side, index, slot int) error {
	if !side.Valid() {
		return fmt.Errorf("side=%d: %w", side, ErrValidation)
	}
	l := b.list(side)
	if index < 0 || index >= l.Count {
		return fmt.Errorf("index %d of %d live orders: %w", index, l.Count, ErrNotFound)
	}
	o := l.Orders[index]
	if o.Owner != slot {
		return fmt.Errorf("order at %d owned by slot %d: %w", index, o.Owner, ErrUnauthorized)
	}

	if side == Buy {
		b.Makers[slot].Quote += o.Amount * o.Price
	} else {
		b.Makers[slot].Base += o.Amount
	}
	l.removeAt(index)
	return nil
}

// GetOrderIndex returns the index of the highest-priority resting order on
// side matching (slot, refID). Reference ids are not deduplicated on
// submission, so duplicates resolve to the one that would match first.
func (b *OrderBook) GetOrderIndex(side Side, refID uint32, slot int) (int, error) {
	if !side.Valid() {
		return 0, fmt.Errorf("side=%d: %w", side, ErrValidation)
	}
	i, ok := b.list(side).find(refID, slot)
	if !ok {
		return 0, fmt.Errorf("ref=%d slot=%d on %s side: %w", refID, slot, side, ErrNotFound)
	}
	return i, nil
}

// GetBestOrders returns the resting orders on side in the exact order they
// would match: best price first, earlier sequence first within a price.
func (b *OrderBook) GetBestOrders(side Side) []Order {
	return b.list(side).Live()
}
