package clob

import (
	"fmt"
	"sort"
)

// Order is a resting limit order. Whether it is a bid or an ask is implied by
// the list it sits in, so the side is not encoded here.
type Order struct {
	Price  int64  // quote units per base unit
	Amount int64  // remaining base units, always > 0 while resting
	RefID  uint32 // caller-chosen tag for later lookup/cancellation
	Owner  int    // market maker slot index
	Seq    uint64 // monotonic insertion sequence, per book
}

// OrderList is one side of the book: a fixed-slot arena holding Count live
// orders in Orders[0:Count], sorted best price first, ties by earliest Seq.
// Removal shifts the tail down so the sort order survives without reallocation.
type OrderList struct {
	Side   Side
	Orders []Order // backing array, length fixed at book creation
	Count  int
}

func newOrderList(side Side, depth int) OrderList {
	return OrderList{Side: side, Orders: make([]Order, depth)}
}

// Full reports whether the arena has no free slot left.
func (l *OrderList) Full() bool {
	return l.Count == len(l.Orders)
}

// Live returns a copy of the live orders in matching order (best first).
func (l *OrderList) Live() []Order {
	out := make([]Order, l.Count)
	copy(out, l.Orders[:l.Count])
	return out
}

// better reports whether price a has strictly higher priority than price b
// on this side: bids descending, asks ascending.
func (l *OrderList) better(a, b int64) bool {
	if l.Side == Buy {
		return a > b
	}
	return a < b
}

// insert places o at its sorted position: after all orders with a better or
// equal price, before the first strictly worse one. New orders carry the
// largest Seq, so appending after price ties preserves time priority.
func (l *OrderList) insert(o Order) error {
	if l.Full() {
		return fmt.Errorf("%s side full at depth %d: %w", l.Side, len(l.Orders), ErrCapacityExceeded)
	}
	pos := sort.Search(l.Count, func(i int) bool {
		return l.better(o.Price, l.Orders[i].Price)
	})
	copy(l.Orders[pos+1:l.Count+1], l.Orders[pos:l.Count])
	l.Orders[pos] = o
	l.Count++
	return nil
}

// removeAt deletes the order at index i, shifting the tail down.
func (l *OrderList) removeAt(i int) {
	copy(l.Orders[i:l.Count-1], l.Orders[i+1:l.Count])
	l.Orders[l.Count-1] = Order{}
	l.Count--
}

// find returns the index of the highest-priority order matching (owner, refID).
func (l *OrderList) find(refID uint32, owner int) (int, bool) {
	for i := 0; i < l.Count; i++ {
		if l.Orders[i].RefID == refID && l.Orders[i].Owner == owner {
			return i, true
		}
	}
	return 0, false
}
