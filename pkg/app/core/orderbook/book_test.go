package orderbook

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/uhyunpark/hyperfill/pkg/util"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newTestBook() *Book {
	clock := util.NewManualClock(time.UnixMilli(1_700_000_000_000))
	return NewBook("HBAR_USDC", "HBAR", "USDC", Options{Clock: clock, CheckInvariants: true})
}

func limit(side Side, price, qty, account, src, dst string) Intent {
	return Intent{
		Kind:               Limit,
		Side:               side,
		Price:              d(price),
		Quantity:           d(qty),
		Account:            account,
		SourceNetwork:      src,
		DestinationNetwork: dst,
	}
}

func mustProcess(t *testing.T, b *Book, in Intent) *Result {
	t.Helper()
	res, err := b.Process(in)
	if err != nil {
		t.Fatalf("Process(%s %s %s@%s): %v", in.Kind, in.Side, in.Quantity, in.Price, err)
	}
	return res
}

func TestFullFillExample(t *testing.T) {
	b := newTestBook()

	res := mustProcess(t, b, limit(Bid, "50", "2.0", "X", "hedera", "polygon"))
	if res.Resting == nil || res.Task != TaskNewBest {
		t.Fatalf("bid: resting=%v task=%s, want resting new_best", res.Resting, res.Task)
	}

	res = mustProcess(t, b, limit(Ask, "50", "2.0", "Y", "polygon", "hedera"))
	if len(res.Trades) != 1 {
		t.Fatalf("trades = %d, want 1", len(res.Trades))
	}
	tr := res.Trades[0]
	if !tr.Price.Equal(d("50")) || !tr.Quantity.Equal(d("2")) {
		t.Errorf("trade = %s@%s, want 2@50", tr.Quantity, tr.Price)
	}
	if tr.Party1.Account != "X" || tr.Party1.Side != Bid {
		t.Errorf("party1 = %s/%s, want X/bid", tr.Party1.Account, tr.Party1.Side)
	}
	if tr.Party2.Account != "Y" || tr.Party2.Side != Ask {
		t.Errorf("party2 = %s/%s, want Y/ask", tr.Party2.Account, tr.Party2.Side)
	}
	if tr.Party1.Remaining == nil || !tr.Party1.Remaining.IsZero() {
		t.Errorf("party1 remaining = %v, want 0", tr.Party1.Remaining)
	}
	if tr.Party2.OrderID != nil || tr.Party2.Remaining != nil {
		t.Errorf("incoming party carries resting fields")
	}
	if res.Task != TaskCompleteFill || res.Resting != nil {
		t.Errorf("task = %s resting=%v, want complete_fill and nothing resting", res.Task, res.Resting)
	}
	if bids, asks := b.Len(); bids != 0 || asks != 0 {
		t.Errorf("book has %d bids %d asks, want empty", bids, asks)
	}
	if got := len(b.Tape()); got != 1 {
		t.Errorf("tape length = %d, want 1", got)
	}
}

func TestSweepTooLargeLeavesBookUnchanged(t *testing.T) {
	b := newTestBook()
	mustProcess(t, b, limit(Ask, "100", "1.0", "A", "polygon", "hedera"))
	before := b.Snapshot()

	_, err := b.Process(limit(Bid, "100", "1.5", "B", "hedera", "polygon"))
	if !errors.Is(err, ErrSweepTooLarge) || !errors.Is(err, ErrPolicy) {
		t.Fatalf("err = %v, want ErrSweepTooLarge", err)
	}

	after := b.Snapshot()
	if len(after.Asks) != 1 || !after.Asks[0].Quantity.Equal(d("1")) {
		t.Fatalf("ask side = %+v, want one ask of 1.0", after.Asks)
	}
	if len(after.Bids) != 0 || len(b.Tape()) != 0 {
		t.Errorf("rejected order left state behind")
	}
	if before.Asks[0].Timestamp != after.Asks[0].Timestamp {
		t.Errorf("resting order re-stamped by rejected order")
	}
}

func TestPartialFillKeepsPriority(t *testing.T) {
	b := newTestBook()
	first := mustProcess(t, b, limit(Ask, "10", "5", "A", "polygon", "hedera")).Resting
	mustProcess(t, b, limit(Ask, "10", "5", "B", "polygon", "hedera"))

	res := mustProcess(t, b, limit(Bid, "10", "2", "C", "hedera", "polygon"))
	if res.Task != TaskPartialFill {
		t.Fatalf("task = %s, want partial_fill", res.Task)
	}
	tr := res.Trades[0]
	if *tr.Party1.OrderID != first.ID {
		t.Errorf("matched order %d, want oldest %d", *tr.Party1.OrderID, first.ID)
	}
	if !tr.Party1.Remaining.Equal(d("3")) {
		t.Errorf("remaining = %s, want 3", tr.Party1.Remaining)
	}

	snap := b.Snapshot()
	if snap.Asks[0].OrderID != first.ID || !snap.Asks[0].Quantity.Equal(d("3")) {
		t.Errorf("head after partial fill = %+v, want order %d with 3", snap.Asks[0], first.ID)
	}
	if got := b.VolumeAtPrice(Ask, d("10")); !got.Equal(d("8")) {
		t.Errorf("volume = %s, want 8", got)
	}
}

func TestCompleteFillReportsNextBest(t *testing.T) {
	b := newTestBook()
	mustProcess(t, b, limit(Ask, "10", "1", "A", "polygon", "hedera"))
	second := mustProcess(t, b, limit(Ask, "10", "4", "B", "polygon", "hedera")).Resting

	res := mustProcess(t, b, limit(Bid, "11", "1", "C", "hedera", "polygon"))
	if res.Task != TaskCompleteFill {
		t.Fatalf("task = %s, want complete_fill", res.Task)
	}
	if res.NextBest == nil || res.NextBest.ID != second.ID {
		t.Fatalf("next best = %v, want order %d", res.NextBest, second.ID)
	}
	if !res.Trades[0].Price.Equal(d("10")) {
		t.Errorf("trade price = %s, want resting price 10", res.Trades[0].Price)
	}
}

func TestNetworkCompatibility(t *testing.T) {
	t.Run("mirrored", func(t *testing.T) {
		b := newTestBook()
		mustProcess(t, b, limit(Ask, "1", "1", "A", "hedera", "polygon"))
		res := mustProcess(t, b, limit(Bid, "1", "1", "B", "polygon", "hedera"))
		if len(res.Trades) != 1 {
			t.Fatalf("trades = %d, want 1", len(res.Trades))
		}
	})

	t.Run("not mirrored", func(t *testing.T) {
		b := newTestBook()
		mustProcess(t, b, limit(Ask, "1", "1", "A", "hedera", "polygon"))
		res := mustProcess(t, b, limit(Bid, "1", "1", "B", "hedera", "polygon"))
		if len(res.Trades) != 0 {
			t.Fatalf("trades = %d, want 0", len(res.Trades))
		}
		if res.Resting == nil {
			t.Fatalf("incoming order did not rest")
		}
		bids, asks := b.Len()
		if bids != 1 || asks != 1 {
			t.Errorf("book = %d bids %d asks, want 1/1", bids, asks)
		}
	})

	t.Run("skips incompatible head", func(t *testing.T) {
		b := newTestBook()
		mustProcess(t, b, limit(Ask, "1", "1", "A", "base", "celo"))
		want := mustProcess(t, b, limit(Ask, "1", "1", "B", "hedera", "polygon")).Resting
		res := mustProcess(t, b, limit(Bid, "1", "1", "C", "polygon", "hedera"))
		if len(res.Trades) != 1 || *res.Trades[0].Party1.OrderID != want.ID {
			t.Fatalf("expected match against order %d, got %+v", want.ID, res.Trades)
		}
		if _, ok := b.Order(want.ID); ok {
			t.Errorf("filled order still resting")
		}
		if _, asks := b.Len(); asks != 1 {
			t.Errorf("asks = %d, want incompatible head left alone", asks)
		}
	})
}

func TestTaskClassification(t *testing.T) {
	b := newTestBook()
	tests := []struct {
		in   Intent
		want Task
	}{
		{limit(Bid, "10", "1", "A", "hedera", "polygon"), TaskNewBest},
		{limit(Bid, "10", "1", "A", "hedera", "polygon"), TaskJoinedBest},
		{limit(Bid, "9", "1", "A", "hedera", "polygon"), TaskRested},
		{limit(Bid, "11", "1", "A", "hedera", "polygon"), TaskNewBest},
		{limit(Ask, "20", "1", "A", "polygon", "hedera"), TaskNewBest},
		{limit(Ask, "21", "1", "A", "polygon", "hedera"), TaskRested},
		{limit(Ask, "19", "1", "A", "polygon", "hedera"), TaskNewBest},
	}
	for i, tt := range tests {
		res := mustProcess(t, b, tt.in)
		if res.Task != tt.want {
			t.Errorf("#%d %s@%s: task = %s, want %s", i, tt.in.Side, tt.in.Price, res.Task, tt.want)
		}
	}
	if p, _ := b.BestBid(); !p.Equal(d("11")) {
		t.Errorf("best bid = %s, want 11", p)
	}
	if p, _ := b.WorstBid(); !p.Equal(d("9")) {
		t.Errorf("worst bid = %s, want 9", p)
	}
	if p, _ := b.BestAsk(); !p.Equal(d("19")) {
		t.Errorf("best ask = %s, want 19", p)
	}
	if p, _ := b.WorstAsk(); !p.Equal(d("21")) {
		t.Errorf("worst ask = %s, want 21", p)
	}
}

func TestMarketOrderSweeps(t *testing.T) {
	b := newTestBook()
	mustProcess(t, b, limit(Ask, "10", "1", "A", "polygon", "hedera"))
	mustProcess(t, b, limit(Ask, "10", "1", "B", "celo", "base"))
	mustProcess(t, b, limit(Ask, "11", "2", "C", "polygon", "hedera"))

	res := mustProcess(t, b, Intent{
		Kind: Market, Side: Bid, Quantity: d("2.5"),
		Account: "M", SourceNetwork: "hedera", DestinationNetwork: "polygon",
	})
	if len(res.Trades) != 2 {
		t.Fatalf("trades = %d, want 2", len(res.Trades))
	}
	if res.Trades[0].Party1.Account != "A" || res.Trades[1].Party1.Account != "C" {
		t.Errorf("matched %s then %s, want A then C", res.Trades[0].Party1.Account, res.Trades[1].Party1.Account)
	}
	if !res.Trades[1].Quantity.Equal(d("1.5")) || !res.Trades[1].Party1.Remaining.Equal(d("0.5")) {
		t.Errorf("second fill = %s remaining %s, want 1.5 remaining 0.5", res.Trades[1].Quantity, res.Trades[1].Party1.Remaining)
	}
	if res.Task != TaskCompleteFill || res.Resting != nil {
		t.Errorf("task = %s, resting = %v", res.Task, res.Resting)
	}

	res = mustProcess(t, b, Intent{
		Kind: Market, Side: Bid, Quantity: d("5"),
		Account: "M", SourceNetwork: "hedera", DestinationNetwork: "polygon",
	})
	if len(res.Trades) != 1 || res.Task != TaskPartialFill {
		t.Errorf("trades = %d task = %s, want 1 partial_fill", len(res.Trades), res.Task)
	}
	if bids, asks := b.Len(); bids != 0 || asks != 1 {
		t.Errorf("book = %d bids %d asks, want remainder discarded and B untouched", bids, asks)
	}
}

func TestCancel(t *testing.T) {
	b := newTestBook()
	o := mustProcess(t, b, limit(Bid, "10", "1", "A", "hedera", "polygon")).Resting

	if _, ok := b.Cancel(Bid, 999); ok {
		t.Errorf("cancel of unknown id reported success")
	}
	if _, ok := b.Cancel(Ask, o.ID); ok {
		t.Errorf("cancel on wrong side reported success")
	}
	got, ok := b.Cancel(Bid, o.ID)
	if !ok || got.ID != o.ID {
		t.Fatalf("cancel = %v %v", got, ok)
	}
	if _, ok := b.Cancel(Bid, o.ID); ok {
		t.Errorf("second cancel reported success")
	}
	if b.bids.Depth() != 0 {
		t.Errorf("empty level not dropped")
	}
}

func TestModify(t *testing.T) {
	b := newTestBook()
	a := mustProcess(t, b, limit(Bid, "10", "1", "A", "hedera", "polygon")).Resting
	c := mustProcess(t, b, limit(Bid, "10", "1", "C", "hedera", "polygon")).Resting

	if _, err := b.Modify(Bid, a.ID, Modification{Quantity: d("0.5")}); err != nil {
		t.Fatal(err)
	}
	if head := b.Snapshot().Bids[0]; head.OrderID != a.ID {
		t.Errorf("decrease lost priority: head = %d", head.OrderID)
	}

	if _, err := b.Modify(Bid, a.ID, Modification{Quantity: d("3")}); err != nil {
		t.Fatal(err)
	}
	if head := b.Snapshot().Bids[0]; head.OrderID != c.ID {
		t.Errorf("increase kept priority: head = %d, want %d", head.OrderID, c.ID)
	}

	// a is already last, so a further increase keeps it there
	if _, err := b.Modify(Bid, a.ID, Modification{Quantity: d("4")}); err != nil {
		t.Fatal(err)
	}
	if last := b.Snapshot().Bids[1]; last.OrderID != a.ID {
		t.Errorf("tail order moved: last = %d", last.OrderID)
	}

	moved, err := b.Modify(Bid, c.ID, Modification{Price: d("9")})
	if err != nil {
		t.Fatal(err)
	}
	if moved.ID != c.ID || !moved.Price.Equal(d("9")) {
		t.Errorf("moved = %+v", moved)
	}
	if !b.VolumeAtPrice(Bid, d("10")).Equal(d("4")) || !b.VolumeAtPrice(Bid, d("9")).Equal(d("1")) {
		t.Errorf("volumes after move: 10=%s 9=%s", b.VolumeAtPrice(Bid, d("10")), b.VolumeAtPrice(Bid, d("9")))
	}

	mustProcess(t, b, limit(Ask, "12", "1", "Z", "polygon", "hedera"))
	if _, err := b.Modify(Bid, c.ID, Modification{Price: d("12")}); !errors.Is(err, ErrWouldCross) {
		t.Errorf("crossing modify err = %v, want ErrWouldCross", err)
	}
	if _, err := b.Modify(Bid, 12345, Modification{Quantity: d("1")}); !errors.Is(err, ErrOrderNotFound) {
		t.Errorf("unknown modify err = %v, want ErrOrderNotFound", err)
	}
}

func TestValidation(t *testing.T) {
	b := NewBook("HBAR_USDC", "HBAR", "USDC", Options{PriceScale: 4, QuantityScale: 2})
	tests := []struct {
		name string
		in   Intent
		want error
	}{
		{"zero qty", limit(Bid, "1", "0", "A", "a", "b"), ErrNonPositiveQuantity},
		{"negative qty", limit(Bid, "1", "-1", "A", "a", "b"), ErrNonPositiveQuantity},
		{"zero price", limit(Bid, "0", "1", "A", "a", "b"), ErrInvalidPrice},
		{"bad side", Intent{Kind: Limit, Side: 3, Price: d("1"), Quantity: d("1")}, ErrInvalidSide},
		{"bad kind", Intent{Kind: 9, Side: Bid, Price: d("1"), Quantity: d("1")}, ErrInvalidKind},
		{"price precision", limit(Bid, "1.00001", "1", "A", "a", "b"), ErrPrecision},
		{"qty precision", limit(Bid, "1", "1.001", "A", "a", "b"), ErrPrecision},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := b.Process(tt.in)
			if !errors.Is(err, tt.want) || !errors.Is(err, ErrValidation) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
	// trailing zeros are not extra precision
	if _, err := b.Process(limit(Bid, "1.50000000", "1.00", "A", "a", "b")); err != nil {
		t.Errorf("normalized price rejected: %v", err)
	}
}

func TestReplayTimestampsAndIDs(t *testing.T) {
	b := newTestBook()
	in := limit(Bid, "1", "1", "A", "a", "b")
	in.Timestamp = 1_800_000_000_000
	in.OrderID = 42
	o := mustProcess(t, b, in).Resting
	if o.ID != 42 || o.Timestamp != in.Timestamp {
		t.Fatalf("replayed order = %d@%d", o.ID, o.Timestamp)
	}

	next := mustProcess(t, b, limit(Bid, "1", "1", "A", "a", "b")).Resting
	if next.ID != 43 {
		t.Errorf("next id = %d, want 43", next.ID)
	}
	if next.Timestamp < in.Timestamp {
		t.Errorf("clock moved backward: %d < %d", next.Timestamp, in.Timestamp)
	}

	_, err := b.Process(in)
	if !errors.Is(err, ErrDuplicateOrder) {
		t.Errorf("duplicate replay err = %v", err)
	}
}

func TestOrderIDsNeverReused(t *testing.T) {
	b := newTestBook()
	ask := mustProcess(t, b, limit(Ask, "5", "1", "A", "polygon", "hedera")).Resting
	fill := mustProcess(t, b, limit(Bid, "5", "1", "B", "hedera", "polygon"))
	if fill.Task != TaskCompleteFill {
		t.Fatalf("task = %s, want complete_fill", fill.Task)
	}
	if b.asks.OrderExists(ask.ID) {
		t.Fatalf("filled order %d still indexed", ask.ID)
	}

	again := limit(Ask, "6", "1", "A", "polygon", "hedera")
	again.OrderID = ask.ID
	if _, err := b.Process(again); !errors.Is(err, ErrDuplicateOrder) {
		t.Fatalf("reused filled id %d: err = %v", ask.ID, err)
	}

	cancelled := mustProcess(t, b, limit(Ask, "6", "1", "A", "polygon", "hedera")).Resting
	b.Cancel(Ask, cancelled.ID)
	again.OrderID = cancelled.ID
	if _, err := b.Process(again); !errors.Is(err, ErrDuplicateOrder) {
		t.Fatalf("reused cancelled id %d: err = %v", cancelled.ID, err)
	}

	// a supplied id on an order that only trades still burns the id
	mustProcess(t, b, limit(Ask, "7", "1", "A", "polygon", "hedera"))
	taker := limit(Bid, "7", "1", "B", "hedera", "polygon")
	taker.OrderID = 100
	mustProcess(t, b, taker)
	if _, err := b.Process(taker); !errors.Is(err, ErrDuplicateOrder) {
		t.Errorf("reused taker id: err = %v", err)
	}
	if next := mustProcess(t, b, limit(Bid, "1", "1", "B", "hedera", "polygon")).Resting; next.ID != 101 {
		t.Errorf("next id = %d, want 101", next.ID)
	}
}

func TestUnfilledMarketOrderKeepsClock(t *testing.T) {
	b := newTestBook()
	res := mustProcess(t, b, Intent{
		Kind: Market, Side: Bid, Quantity: d("1"), Timestamp: 1_900_000_000_000,
		Account: "M", SourceNetwork: "hedera", DestinationNetwork: "polygon",
	})
	if res.Task != TaskNone || len(res.Trades) != 0 {
		t.Fatalf("task = %s trades = %d, want none", res.Task, len(res.Trades))
	}
	o := mustProcess(t, b, limit(Ask, "1", "1", "A", "polygon", "hedera")).Resting
	if o.Timestamp != 1_700_000_000_000 {
		t.Errorf("resting timestamp = %d, clock moved by an unfilled market order", o.Timestamp)
	}
}

func TestTradeRefsCarryEpoch(t *testing.T) {
	first := func(epoch string) Trade {
		b := NewBook("HBAR_USDC", "HBAR", "USDC", Options{Epoch: epoch})
		mustProcess(t, b, limit(Ask, "1", "1", "A", "polygon", "hedera"))
		return mustProcess(t, b, limit(Bid, "1", "1", "B", "hedera", "polygon")).Trades[0]
	}
	e1, e2 := NewEpoch(), NewEpoch()
	if e1 == e2 {
		t.Fatalf("NewEpoch repeated %s", e1)
	}
	t1, t2 := first(e1), first(e2)
	if t1.Seq != t2.Seq {
		t.Fatalf("seq %d vs %d", t1.Seq, t2.Seq)
	}
	if t1.Ref() == t2.Ref() {
		t.Errorf("two boots share ref %s", t1.Ref())
	}
	if want := "HBAR_USDC-" + e1 + "-1"; t1.Ref() != want {
		t.Errorf("ref = %s, want %s", t1.Ref(), want)
	}
	if got := first("").Ref(); got != "HBAR_USDC-1" {
		t.Errorf("ref without epoch = %s", got)
	}
}

func TestLockedFunds(t *testing.T) {
	b := newTestBook()
	mustProcess(t, b, limit(Bid, "2", "3", "0xAbC", "hedera", "polygon"))
	mustProcess(t, b, limit(Bid, "1", "1", "other", "hedera", "polygon"))
	mustProcess(t, b, limit(Ask, "5", "4", "0xabc", "polygon", "hedera"))

	if got := b.LockedFunds("0xabc", "usdc"); !got.Equal(d("6")) {
		t.Errorf("quote locked = %s, want 6", got)
	}
	if got := b.LockedFunds("0xABC", "HBAR"); !got.Equal(d("4")) {
		t.Errorf("base locked = %s, want 4", got)
	}
	if got := b.LockedFunds("0xabc", "ETH"); !got.IsZero() {
		t.Errorf("unrelated asset locked = %s", got)
	}
}

func TestDumpTape(t *testing.T) {
	b := newTestBook()
	mustProcess(t, b, limit(Ask, "7", "1", "A", "polygon", "hedera"))
	res := mustProcess(t, b, limit(Bid, "7", "1", "B", "hedera", "polygon"))
	ts := res.Trades[0].Timestamp

	var buf bytes.Buffer
	if err := b.DumpTape(&buf, true); err != nil {
		t.Fatal(err)
	}
	want := fmt.Sprintf("Time: %d, Price: 7, Quantity: 1\n", ts)
	if buf.String() != want {
		t.Errorf("dump = %q, want %q", buf.String(), want)
	}
	if len(b.Tape()) != 0 {
		t.Errorf("tape not wiped")
	}
	if _, ok := b.Trade(1); ok {
		t.Errorf("wiped trade still addressable")
	}

	mustProcess(t, b, limit(Ask, "7", "1", "A", "polygon", "hedera"))
	res = mustProcess(t, b, limit(Bid, "7", "1", "B", "hedera", "polygon"))
	if res.Trades[0].Seq != 2 {
		t.Errorf("seq after wipe = %d, want 2", res.Trades[0].Seq)
	}
	if tr, ok := b.Trade(2); !ok || tr.Ref() != "HBAR_USDC-2" {
		t.Errorf("Trade(2) = %v %v", tr.Ref(), ok)
	}
	if !strings.Contains(b.String(), "***Trades***") {
		t.Errorf("String() missing trades section")
	}
}
