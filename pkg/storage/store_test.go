package storage

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/quartzex/clob/pkg/clob"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestGlobalStateRoundTrip(t *testing.T) {
	s := newTestStore(t)

	if _, ok, err := s.LoadGlobal(); err != nil || ok {
		t.Fatalf("LoadGlobal on empty store = %v, %v; want miss", ok, err)
	}

	want := GlobalState{FeeCollector: common.Address{19: 0xfe}}
	if err := s.SaveGlobal(want); err != nil {
		t.Fatalf("SaveGlobal: %v", err)
	}
	got, ok, err := s.LoadGlobal()
	if err != nil || !ok {
		t.Fatalf("LoadGlobal = %v, %v", ok, err)
	}
	if got.FeeCollector != want.FeeCollector {
		t.Fatalf("fee collector = %s, want %s", got.FeeCollector.Hex(), want.FeeCollector.Hex())
	}
}

func TestBookRoundTrip(t *testing.T) {
	s := newTestStore(t)

	cfg := clob.DefaultConfig()
	cfg.Depth = 8
	cfg.MakerCapacity = 4
	book, err := clob.NewOrderBook("SOL", "USDC", cfg, 1000)
	if err != nil {
		t.Fatal(err)
	}
	authority := common.Address{19: 1}
	if err := book.AddMarketMaker(authority, 0); err != nil {
		t.Fatal(err)
	}
	if err := book.Deposit(0, 500, 1000); err != nil {
		t.Fatal(err)
	}
	if _, err := book.SubmitLimitOrder(clob.Sell, 200, 7, 42, 0, 2000); err != nil {
		t.Fatal(err)
	}

	if err := s.SaveBook(book); err != nil {
		t.Fatalf("SaveBook: %v", err)
	}
	got, ok, err := s.LoadBook("SOL/USDC")
	if err != nil || !ok {
		t.Fatalf("LoadBook = %v, %v", ok, err)
	}

	if got.Pair() != "SOL/USDC" {
		t.Fatalf("pair = %s", got.Pair())
	}
	if got.Asks.Count != 1 || got.Asks.Orders[0].Amount != 200 || got.Asks.Orders[0].RefID != 42 {
		t.Fatalf("resting ask lost: %+v", got.Asks.Orders[:got.Asks.Count])
	}
	if got.Makers[0].Authority != authority || got.Makers[0].Base != 300 || got.Makers[0].Quote != 1000 {
		t.Fatalf("maker slot lost: %+v", got.Makers[0])
	}
	if got.VaultBase != 500 || got.VaultQuote != 1000 {
		t.Fatalf("vault = %d/%d, want 500/1000", got.VaultBase, got.VaultQuote)
	}
	if got.NextSeq != book.NextSeq {
		t.Fatalf("seq = %d, want %d", got.NextSeq, book.NextSeq)
	}
	if err := got.CheckConservation(); err != nil {
		t.Fatalf("restored book: %v", err)
	}

	if _, ok, err := s.LoadBook("BTC/USDC"); err != nil || ok {
		t.Fatalf("LoadBook unknown pair = %v, %v; want miss", ok, err)
	}
}

func TestListPairs(t *testing.T) {
	s := newTestStore(t)
	cfg := clob.DefaultConfig()

	for _, p := range [][2]string{{"SOL", "USDC"}, {"BTC", "USDC"}} {
		book, err := clob.NewOrderBook(p[0], p[1], cfg, 0)
		if err != nil {
			t.Fatal(err)
		}
		if err := s.SaveBook(book); err != nil {
			t.Fatal(err)
		}
	}

	pairs, err := s.ListPairs()
	if err != nil {
		t.Fatalf("ListPairs: %v", err)
	}
	if len(pairs) != 2 {
		t.Fatalf("pairs = %v, want 2 entries", pairs)
	}
	seen := map[string]bool{}
	for _, p := range pairs {
		seen[p] = true
	}
	if !seen["SOL/USDC"] || !seen["BTC/USDC"] {
		t.Fatalf("pairs = %v", pairs)
	}
}

func TestRecentFillsNewestFirst(t *testing.T) {
	s := newTestStore(t)

	batches := [][]clob.Fill{
		{{Price: 5, Qty: 10, MakerSlot: 0, TakerSlot: -1, TakerSide: clob.Buy, Time: 1000}},
		{{Price: 6, Qty: 20, MakerSlot: 1, TakerSlot: -1, TakerSide: clob.Buy, Time: 2000}},
		{{Price: 7, Qty: 30, MakerSlot: 0, TakerSlot: 2, TakerSide: clob.Sell, Time: 3000}},
	}
	for _, b := range batches {
		if err := s.SaveFills("SOL/USDC", b); err != nil {
			t.Fatalf("SaveFills: %v", err)
		}
	}
	// Another pair's history must not bleed in.
	if err := s.SaveFills("BTC/USDC", []clob.Fill{{Price: 99, Qty: 1, Time: 4000}}); err != nil {
		t.Fatal(err)
	}

	fills, err := s.RecentFills("SOL/USDC", 2)
	if err != nil {
		t.Fatalf("RecentFills: %v", err)
	}
	if len(fills) != 2 {
		t.Fatalf("len = %d, want 2", len(fills))
	}
	if fills[0].Price != 7 || fills[1].Price != 6 {
		t.Fatalf("fills = %+v, want newest first", fills)
	}

	none, err := s.RecentFills("ETH/USDC", 10)
	if err != nil || len(none) != 0 {
		t.Fatalf("RecentFills unknown pair = %v, %v", none, err)
	}
}
