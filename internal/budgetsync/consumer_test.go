package budgetsync

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"mintify/internal/event"
	"mintify/internal/log"
)

type fakeStore struct {
	mu      sync.Mutex
	spent   map[string]float64
	calls   int
	matched bool
	err     error
}

func newFakeStore(matched bool) *fakeStore {
	return &fakeStore{spent: make(map[string]float64), matched: matched}
}

func (s *fakeStore) AddSpent(ctx context.Context, userID, category, period string, amount float64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return false, s.err
	}
	if !s.matched {
		return false, nil
	}
	s.spent[userID+"/"+category+"/"+period] += amount
	return true, nil
}

func testLogger() *log.Logger {
	return log.New(log.Config{Level: slog.LevelError, Component: "budget-sync"})
}

func testEvent(amount float64) *event.SpendingEvent {
	return event.NewSpendingRecorded("tx1", "u1", amount, "Food",
		time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC))
}

func TestHandleSpendingRecordedIncrements(t *testing.T) {
	store := newFakeStore(true)
	c := NewConsumer(store, testLogger())

	if err := c.HandleSpendingRecorded(context.Background(), testEvent(15)); err != nil {
		t.Fatalf("HandleSpendingRecorded: %v", err)
	}

	if got := store.spent["u1/Food/2024-03"]; got != 15 {
		t.Errorf("spent = %v, want 15", got)
	}
}

func TestHandleSpendingRecordedConcurrent(t *testing.T) {
	store := newFakeStore(true)
	c := NewConsumer(store, testLogger())

	const n = 25
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := c.HandleSpendingRecorded(context.Background(), testEvent(2)); err != nil {
				t.Errorf("HandleSpendingRecorded: %v", err)
			}
		}()
	}
	wg.Wait()

	// Order of deliveries must not matter, only the sum.
	if got := store.spent["u1/Food/2024-03"]; got != float64(n)*2 {
		t.Errorf("spent = %v, want %v", got, float64(n)*2)
	}
}

func TestHandleSpendingRecordedNoMatchIsAcked(t *testing.T) {
	store := newFakeStore(false)
	c := NewConsumer(store, testLogger())

	if err := c.HandleSpendingRecorded(context.Background(), testEvent(15)); err != nil {
		t.Fatalf("missing budget must not be an error: %v", err)
	}
	if len(store.spent) != 0 {
		t.Errorf("budget was created for unbudgeted category: %v", store.spent)
	}
}

func TestHandleSpendingRecordedForeignTypeIgnored(t *testing.T) {
	store := newFakeStore(true)
	c := NewConsumer(store, testLogger())

	evt := testEvent(15)
	evt.Type = "SOMETHING_ELSE"
	if err := c.HandleSpendingRecorded(context.Background(), evt); err != nil {
		t.Fatalf("foreign event types must be acked, got %v", err)
	}
	if store.calls != 0 {
		t.Errorf("store was touched %d times for a foreign event", store.calls)
	}
}

func TestHandleSpendingRecordedInvalidEvent(t *testing.T) {
	store := newFakeStore(true)
	c := NewConsumer(store, testLogger())

	evt := testEvent(15)
	evt.UserID = ""
	if err := c.HandleSpendingRecorded(context.Background(), evt); err == nil {
		t.Fatal("invalid event must be rejected")
	}
	if store.calls != 0 {
		t.Errorf("store was touched %d times for an invalid event", store.calls)
	}
}

func TestHandleSpendingRecordedStoreError(t *testing.T) {
	store := newFakeStore(true)
	store.err = errors.New("database locked")
	c := NewConsumer(store, testLogger())

	if err := c.HandleSpendingRecorded(context.Background(), testEvent(15)); err == nil {
		t.Fatal("store failures must propagate")
	}
}
