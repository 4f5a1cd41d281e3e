package market

import (
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/uhyunpark/hyperfill/pkg/app/core/orderbook"
)

func TestParseSymbol(t *testing.T) {
	tests := []struct {
		in          string
		base, quote string
		ok          bool
	}{
		{"HBAR_USDC", "HBAR", "USDC", true},
		{"hbar_usdc", "HBAR", "USDC", true},
		{"HBARUSDC", "", "", false},
		{"_USDC", "", "", false},
		{"A_B_C", "", "", false},
	}
	for _, tt := range tests {
		base, quote, err := ParseSymbol(tt.in)
		if (err == nil) != tt.ok {
			t.Errorf("ParseSymbol(%q) err = %v", tt.in, err)
			continue
		}
		if !tt.ok {
			if !errors.Is(err, ErrInvalidSymbol) {
				t.Errorf("ParseSymbol(%q) err = %v, want ErrInvalidSymbol", tt.in, err)
			}
			continue
		}
		if base != tt.base || quote != tt.quote {
			t.Errorf("ParseSymbol(%q) = %s/%s, want %s/%s", tt.in, base, quote, tt.base, tt.quote)
		}
	}
}

func TestGetOrCreateIsIdempotent(t *testing.T) {
	mr := NewMarketRegistry(orderbook.Options{})

	var wg sync.WaitGroup
	books := make([]*orderbook.Book, 16)
	for i := range books {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m, err := mr.GetOrCreate("hbar_usdc")
			if err != nil {
				t.Errorf("GetOrCreate: %v", err)
				return
			}
			books[i] = m.Book
		}(i)
	}
	wg.Wait()

	for _, b := range books {
		if b != books[0] {
			t.Fatalf("registry created more than one book for a symbol")
		}
	}
	if mr.Count() != 1 || !mr.Exists("HBAR_USDC") {
		t.Errorf("count = %d", mr.Count())
	}
}

func TestPauseAndClose(t *testing.T) {
	mr := NewMarketRegistry(orderbook.Options{})
	m, _ := mr.GetOrCreate("ETH_USDC")

	if err := mr.UpdateMarketStatus("ETH_USDC", Paused); err != nil {
		t.Fatal(err)
	}
	if err := mr.Tradable(m); !errors.Is(err, ErrPaused) {
		t.Errorf("Tradable on paused = %v", err)
	}
	if err := mr.UpdateMarketStatus("ETH_USDC", Active); err != nil {
		t.Fatal(err)
	}
	if err := mr.Tradable(m); err != nil {
		t.Errorf("Tradable on active = %v", err)
	}
	if _, err := mr.GetMarket("BTC_USDC"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetMarket unknown = %v", err)
	}

	mr.Close()
	if _, err := mr.GetOrCreate("ETH_USDC"); !errors.Is(err, ErrClosed) {
		t.Errorf("GetOrCreate after close = %v", err)
	}
	if err := mr.Tradable(m); !errors.Is(err, ErrClosed) {
		t.Errorf("Tradable after close = %v", err)
	}
}

func TestRegistryLockedFunds(t *testing.T) {
	mr := NewMarketRegistry(orderbook.Options{})
	a, _ := mr.GetOrCreate("HBAR_USDC")
	b, _ := mr.GetOrCreate("ETH_USDC")

	bid := func(book *orderbook.Book, px, qty int64) {
		_, err := book.Process(orderbook.Intent{
			Kind: orderbook.Limit, Side: orderbook.Bid,
			Price: decimal.NewFromInt(px), Quantity: decimal.NewFromInt(qty),
			Account: "alice", SourceNetwork: "hedera", DestinationNetwork: "polygon",
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	bid(a.Book, 2, 5)
	bid(b.Book, 100, 1)

	if got := mr.LockedFunds("ALICE", "USDC"); !got.Equal(decimal.NewFromInt(110)) {
		t.Errorf("locked = %s, want 110", got)
	}
}
