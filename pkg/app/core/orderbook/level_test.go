package orderbook

import "testing"

func TestPriceLevelQueueSlots(t *testing.T) {
	q := newPriceLevelQueue(d("3"))
	s1 := q.Append(Order{ID: 1, Price: d("3"), Quantity: d("1")})
	s2 := q.Append(Order{ID: 2, Price: d("3"), Quantity: d("2")})
	s3 := q.Append(Order{ID: 3, Price: d("3"), Quantity: d("3")})

	if o := q.Remove(s2); o.ID != 2 {
		t.Fatalf("removed %d, want 2", o.ID)
	}
	if err := q.verify(); err != nil {
		t.Fatal(err)
	}
	if !q.Volume().Equal(d("4")) || !q.Notional().Equal(d("12")) {
		t.Errorf("volume=%s notional=%s, want 4 and 12", q.Volume(), q.Notional())
	}

	// freed slot is reused
	if s4 := q.Append(Order{ID: 4, Price: d("3"), Quantity: d("1")}); s4 != s2 {
		t.Errorf("slot = %d, want recycled %d", s4, s2)
	}

	q.UpdateQuantity(s1, d("5"), 10)
	ids := []uint64{}
	for _, o := range q.Orders() {
		ids = append(ids, o.ID)
	}
	want := []uint64{3, 4, 1}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("order = %v, want %v", ids, want)
		}
	}
	if err := q.verify(); err != nil {
		t.Fatal(err)
	}

	q.Remove(s3)
	q.Remove(s1)
	q.Remove(s2)
	if q.Len() != 0 || !q.Volume().IsZero() {
		t.Errorf("len=%d volume=%s after draining", q.Len(), q.Volume())
	}
	if _, ok := q.Head(); ok {
		t.Errorf("head of empty queue")
	}
}

func TestPriceLevelQueueRemoveFreedSlotPanics(t *testing.T) {
	q := newPriceLevelQueue(d("1"))
	s := q.Append(Order{ID: 1, Price: d("1"), Quantity: d("1")})
	q.Remove(s)
	defer func() {
		if recover() == nil {
			t.Errorf("expected panic on double remove")
		}
	}()
	q.Remove(s)
}
