package clob

import (
	"errors"
	"testing"
)

func TestLimitOrderRestsAndLocksQuote(t *testing.T) {
	b := testBook(t, 0)
	if err := b.Deposit(0, 0, 1000); err != nil {
		t.Fatal(err)
	}

	fills, err := b.SubmitLimitOrder(Buy, 10, 5, 7, 0, 100)
	if err != nil {
		t.Fatalf("SubmitLimitOrder: %v", err)
	}
	if len(fills) != 0 {
		t.Fatalf("fills = %d, want 0 on an empty opposite side", len(fills))
	}
	if b.Makers[0].Quote != 950 {
		t.Fatalf("free quote = %d, want 950 after locking 10*5", b.Makers[0].Quote)
	}
	bids := b.GetBestOrders(Buy)
	if len(bids) != 1 || bids[0].Amount != 10 || bids[0].Price != 5 || bids[0].RefID != 7 {
		t.Fatalf("resting bid = %+v", bids)
	}
}

func TestLimitOrderPriceTimePriority(t *testing.T) {
	b := testBook(t, 0)
	b.Deposit(0, 100, 0)
	b.Deposit(1, 100, 1000)

	// Two asks at the same price; slot 0 arrived first.
	if _, err := b.SubmitLimitOrder(Sell, 100, 5, 1, 0, 10); err != nil {
		t.Fatal(err)
	}
	if _, err := b.SubmitLimitOrder(Sell, 100, 5, 2, 1, 20); err != nil {
		t.Fatal(err)
	}

	fills, err := b.SubmitLimitOrder(Buy, 150, 5, 3, 1, 30)
	if err != nil {
		t.Fatalf("crossing buy: %v", err)
	}
	if len(fills) != 2 {
		t.Fatalf("fills = %d, want 2", len(fills))
	}
	if fills[0].MakerSlot != 0 || fills[0].Qty != 100 {
		t.Fatalf("first fill = %+v, want full 100 from slot 0", fills[0])
	}
	if fills[1].MakerSlot != 1 || fills[1].Qty != 50 {
		t.Fatalf("second fill = %+v, want 50 from slot 1", fills[1])
	}

	asks := b.GetBestOrders(Sell)
	if len(asks) != 1 || asks[0].Owner != 1 || asks[0].Amount != 50 {
		t.Fatalf("remaining ask = %+v, want slot 1 with 50 left", asks)
	}
}

func TestLimitBuyRefundsPriceImprovement(t *testing.T) {
	b := testBook(t, 0)
	b.Deposit(0, 100, 0)
	b.Deposit(1, 0, 1000)

	if _, err := b.SubmitLimitOrder(Sell, 100, 5, 1, 0, 10); err != nil {
		t.Fatal(err)
	}
	// Limit 7 locks 350 but fills at the maker's 5; the 2-per-unit
	// difference comes back to the taker.
	fills, err := b.SubmitLimitOrder(Buy, 50, 7, 2, 1, 20)
	if err != nil {
		t.Fatal(err)
	}
	if len(fills) != 1 || fills[0].Price != 5 {
		t.Fatalf("fills = %+v, want one fill at the resting price 5", fills)
	}
	if b.Makers[1].Base != 50 {
		t.Fatalf("taker base = %d, want 50", b.Makers[1].Base)
	}
	if b.Makers[1].Quote != 750 {
		t.Fatalf("taker quote = %d, want 1000 - 350 + 100 refund = 750", b.Makers[1].Quote)
	}
	if b.Makers[0].Quote != 250 {
		t.Fatalf("maker quote = %d, want 250 at the resting price", b.Makers[0].Quote)
	}
}

func TestLimitOrderCapacityFailsBeforeMutation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Depth = 2
	cfg.FeeBps = 0
	b, err := NewOrderBook("SOL", "USDC", cfg, 0)
	if err != nil {
		t.Fatal(err)
	}
	b.AddMarketMaker(addr(1), 0)
	b.Deposit(0, 0, 1000)

	for i, price := range []int64{1, 2} {
		if _, err := b.SubmitLimitOrder(Buy, 1, price, uint32(i), 0, int64(i)); err != nil {
			t.Fatal(err)
		}
	}
	free := b.Makers[0].Quote

	_, err = b.SubmitLimitOrder(Buy, 1, 3, 9, 0, 10)
	if !errors.Is(err, ErrCapacityExceeded) {
		t.Fatalf("err = %v, want ErrCapacityExceeded", err)
	}
	if b.Makers[0].Quote != free {
		t.Fatalf("free quote moved on a refused order: %d != %d", b.Makers[0].Quote, free)
	}
	if b.Bids.Count != 2 {
		t.Fatalf("bid count = %d, want 2", b.Bids.Count)
	}
	if err := b.CheckConservation(); err != nil {
		t.Fatal(err)
	}
}

func TestLimitOrderRejections(t *testing.T) {
	b := testBook(t, 0)
	b.Deposit(0, 10, 10)

	if _, err := b.SubmitLimitOrder(Buy, 0, 5, 1, 0, 0); !errors.Is(err, ErrValidation) {
		t.Fatalf("zero amount: err = %v, want ErrValidation", err)
	}
	if _, err := b.SubmitLimitOrder(Buy, 1, -5, 1, 0, 0); !errors.Is(err, ErrValidation) {
		t.Fatalf("negative price: err = %v, want ErrValidation", err)
	}
	if _, err := b.SubmitLimitOrder(Buy, 100, 5, 1, 0, 0); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("underfunded buy: err = %v, want ErrInsufficientBalance", err)
	}
	if _, err := b.SubmitLimitOrder(Sell, 100, 5, 1, 0, 0); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("underfunded sell: err = %v, want ErrInsufficientBalance", err)
	}
	if _, err := b.SubmitLimitOrder(Buy, 1, 5, 1, 5, 0); !errors.Is(err, ErrNotRegistered) {
		t.Fatalf("unbound slot: err = %v, want ErrNotRegistered", err)
	}
	if _, err := b.SubmitLimitOrder(Buy, 1, 5, 1, -1, 0); !errors.Is(err, ErrInvalidIndex) {
		t.Fatalf("negative slot: err = %v, want ErrInvalidIndex", err)
	}
}

func TestTakeOrderBuy(t *testing.T) {
	b := testBook(t, DefaultFeeBps)
	b.Deposit(0, 300, 0)
	if _, err := b.SubmitLimitOrder(Sell, 300, 2, 1, 0, 10); err != nil {
		t.Fatal(err)
	}

	// Spend 100 quote against the ask at 2: 50 base out, fee floors to 0.
	fills, plan, err := b.SubmitTakeOrder(Buy, 100, 49, 20)
	if err != nil {
		t.Fatalf("SubmitTakeOrder: %v", err)
	}
	if plan.Proceeds != 50 || plan.Fee != 0 || plan.PayOut != 50 {
		t.Fatalf("plan = %+v, want proceeds 50, fee 0, payout 50", plan)
	}
	if len(fills) != 1 || fills[0].Qty != 50 || fills[0].Price != 2 || fills[0].TakerSlot != -1 {
		t.Fatalf("fills = %+v", fills)
	}

	asks := b.GetBestOrders(Sell)
	if len(asks) != 1 || asks[0].Amount != 250 {
		t.Fatalf("remaining ask = %+v, want 250 left", asks)
	}
	if b.Makers[0].Quote != 100 {
		t.Fatalf("maker quote = %d, want 100", b.Makers[0].Quote)
	}
	if b.VaultQuote != 100 || b.VaultBase != 250 {
		t.Fatalf("vault = %d base / %d quote, want 250/100", b.VaultBase, b.VaultQuote)
	}
}

func TestTakeOrderSellSweepsLevels(t *testing.T) {
	b := testBook(t, 1000) // 10% to make the fee visible
	b.Deposit(0, 0, 1000)
	if _, err := b.SubmitLimitOrder(Buy, 10, 5, 1, 0, 10); err != nil {
		t.Fatal(err)
	}
	if _, err := b.SubmitLimitOrder(Buy, 10, 4, 2, 0, 11); err != nil {
		t.Fatal(err)
	}

	fills, plan, err := b.SubmitTakeOrder(Sell, 15, 0, 20)
	if err != nil {
		t.Fatalf("SubmitTakeOrder: %v", err)
	}
	// 10 at 5 then 5 at 4: 70 gross, 7 fee.
	if plan.Proceeds != 70 || plan.Fee != 7 || plan.PayOut != 63 {
		t.Fatalf("plan = %+v, want proceeds 70, fee 7, payout 63", plan)
	}
	if len(fills) != 2 || fills[0].Price != 5 || fills[1].Price != 4 || fills[1].Qty != 5 {
		t.Fatalf("fills = %+v", fills)
	}
	if b.Makers[0].Base != 15 {
		t.Fatalf("maker base = %d, want 15", b.Makers[0].Base)
	}
	if b.FeesQuote != 7 {
		t.Fatalf("accrued quote fees = %d, want 7", b.FeesQuote)
	}

	bids := b.GetBestOrders(Buy)
	if len(bids) != 1 || bids[0].Price != 4 || bids[0].Amount != 5 {
		t.Fatalf("remaining bid = %+v, want 5 left at 4", bids)
	}
}

func TestTakeOrderAllOrNothing(t *testing.T) {
	b := testBook(t, 0)
	b.Deposit(0, 100, 0)
	if _, err := b.SubmitLimitOrder(Sell, 100, 3, 1, 0, 10); err != nil {
		t.Fatal(err)
	}

	// 100 quote buys 33 whole units at 3 and strands 1 quote.
	if _, _, err := b.SubmitTakeOrder(Buy, 100, 0, 20); !errors.Is(err, ErrInsufficientLiquidity) {
		t.Fatalf("indivisible remainder: err = %v, want ErrInsufficientLiquidity", err)
	}
	// More input than the whole side holds.
	if _, _, err := b.SubmitTakeOrder(Sell, 500, 0, 20); !errors.Is(err, ErrInsufficientLiquidity) {
		t.Fatalf("oversized take: err = %v, want ErrInsufficientLiquidity", err)
	}

	asks := b.GetBestOrders(Sell)
	if len(asks) != 1 || asks[0].Amount != 100 {
		t.Fatalf("book changed on refused take: %+v", asks)
	}
}

func TestTakeOrderSlippageBound(t *testing.T) {
	b := testBook(t, 0)
	b.Deposit(0, 100, 0)
	if _, err := b.SubmitLimitOrder(Sell, 100, 2, 1, 0, 10); err != nil {
		t.Fatal(err)
	}

	_, _, err := b.SubmitTakeOrder(Buy, 100, 51, 20)
	if !errors.Is(err, ErrSlippageExceeded) {
		t.Fatalf("err = %v, want ErrSlippageExceeded", err)
	}
	if asks := b.GetBestOrders(Sell); len(asks) != 1 || asks[0].Amount != 100 {
		t.Fatalf("book changed on refused take: %+v", asks)
	}
}

func TestCancelRestoresLock(t *testing.T) {
	b := testBook(t, 0)
	b.Deposit(0, 0, 1000)
	if _, err := b.SubmitLimitOrder(Buy, 10, 5, 7, 0, 10); err != nil {
		t.Fatal(err)
	}
	if b.Makers[0].Quote != 950 {
		t.Fatalf("free quote = %d, want 950", b.Makers[0].Quote)
	}

	idx, err := b.GetOrderIndex(Buy, 7, 0)
	if err != nil {
		t.Fatalf("GetOrderIndex: %v", err)
	}

	if err := b.CancelLimitOrder(Buy, idx, 1); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("cancel by non-owner: err = %v, want ErrUnauthorized", err)
	}
	if err := b.CancelLimitOrder(Buy, 5, 0); !errors.Is(err, ErrNotFound) {
		t.Fatalf("cancel past live count: err = %v, want ErrNotFound", err)
	}

	if err := b.CancelLimitOrder(Buy, idx, 0); err != nil {
		t.Fatalf("CancelLimitOrder: %v", err)
	}
	if b.Makers[0].Quote != 1000 {
		t.Fatalf("free quote = %d, want lock restored to 1000", b.Makers[0].Quote)
	}
	if _, err := b.GetOrderIndex(Buy, 7, 0); !errors.Is(err, ErrNotFound) {
		t.Fatalf("index after cancel: err = %v, want ErrNotFound", err)
	}
}

func TestGetBestOrdersMatchOrder(t *testing.T) {
	b := testBook(t, 0)
	b.Deposit(0, 0, 10000)

	for i, price := range []int64{10, 12, 11} {
		if _, err := b.SubmitLimitOrder(Buy, 1, price, uint32(i), 0, int64(i)); err != nil {
			t.Fatal(err)
		}
	}

	bids := b.GetBestOrders(Buy)
	want := []int64{12, 11, 10}
	if len(bids) != len(want) {
		t.Fatalf("len = %d, want %d", len(bids), len(want))
	}
	for i, p := range want {
		if bids[i].Price != p {
			t.Errorf("bids[%d].Price = %d, want %d", i, bids[i].Price, p)
		}
	}

	// The returned slice is a copy; the live book must not alias it.
	bids[0].Amount = 999
	if b.Bids.Orders[0].Amount == 999 {
		t.Fatal("GetBestOrders aliases the live book")
	}
}

func TestFeeAccrualAndCollection(t *testing.T) {
	b := testBook(t, 1000)
	b.Deposit(0, 100, 0)
	b.Deposit(1, 0, 1000)

	if _, err := b.SubmitLimitOrder(Sell, 100, 3, 1, 0, 10); err != nil {
		t.Fatal(err)
	}
	fills, err := b.SubmitLimitOrder(Buy, 100, 3, 2, 1, 20)
	if err != nil {
		t.Fatal(err)
	}
	if len(fills) != 1 {
		t.Fatalf("fills = %d, want 1", len(fills))
	}
	// Buyer-taker pays the fee in base: 10% of 100 units.
	if b.Makers[1].Base != 90 {
		t.Fatalf("taker base = %d, want 90 net of fee", b.Makers[1].Base)
	}
	if b.FeesBase != 10 {
		t.Fatalf("accrued base fees = %d, want 10", b.FeesBase)
	}
	if err := b.CheckConservation(); err != nil {
		t.Fatal(err)
	}

	base, quote := b.CollectFees()
	if base != 10 || quote != 0 {
		t.Fatalf("CollectFees = %d/%d, want 10/0", base, quote)
	}
	if b.FeesBase != 0 {
		t.Fatalf("fees not drained: %d", b.FeesBase)
	}
	if b.VaultBase != 90 {
		t.Fatalf("vault base = %d, want 90 after the fee sweep", b.VaultBase)
	}
}

func TestConservationAcrossMixedActivity(t *testing.T) {
	b := testBook(t, DefaultFeeBps)
	b.Deposit(0, 5000, 5000)
	b.Deposit(1, 5000, 5000)

	step := func(name string, err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if err := b.CheckConservation(); err != nil {
			t.Fatalf("after %s: %v", name, err)
		}
	}

	var err error
	_, err = b.SubmitLimitOrder(Sell, 1000, 7, 1, 0, 10)
	step("rest ask", err)
	_, err = b.SubmitLimitOrder(Buy, 400, 6, 2, 1, 20)
	step("rest bid", err)
	_, err = b.SubmitLimitOrder(Buy, 300, 7, 3, 1, 30)
	step("crossing buy", err)
	_, _, err = b.SubmitTakeOrder(Sell, 300, 0, 40)
	step("take sell", err)
	_, _, err = b.SubmitTakeOrder(Buy, 700, 0, 50)
	step("take buy", err)
	err = b.CancelLimitOrder(Buy, 0, 1)
	step("cancel bid", err)
	b.CollectFees()
	step("collect fees", nil)
	err = b.Withdraw(0, 100, 100)
	step("withdraw", err)
}
