package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bling0390/vivbliss-watch/config"
	"github.com/bling0390/vivbliss-watch/internal/domain/catalog"
	"github.com/bling0390/vivbliss-watch/internal/domain/outbox"
	"github.com/bling0390/vivbliss-watch/internal/domain/receipt"
)

type stubOutbox struct {
	mu     sync.Mutex
	events map[int64]*outbox.EventRecord
}

func newStubOutbox(records ...outbox.EventRecord) *stubOutbox {
	s := &stubOutbox{events: make(map[int64]*outbox.EventRecord)}
	for i := range records {
		record := records[i]
		s.events[record.ID] = &record
	}
	return s
}

func (s *stubOutbox) Insert(context.Context, outbox.Event) (bool, error) {
	return false, errors.New("not implemented")
}

func (s *stubOutbox) FindPending(_ context.Context, limit int) ([]outbox.EventRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []outbox.EventRecord
	for _, evt := range s.events {
		if evt.Status == outbox.StatusPending {
			out = append(out, *evt)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *stubOutbox) Claim(_ context.Context, id int64) (*outbox.EventRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	evt, ok := s.events[id]
	if !ok || evt.Status != outbox.StatusPending {
		return nil, nil
	}
	evt.Status = outbox.StatusProcessing
	evt.TryCount++
	copied := *evt
	return &copied, nil
}

func (s *stubOutbox) MarkSent(_ context.Context, id int64, strategyUsed string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	evt, ok := s.events[id]
	if !ok {
		return errors.New("unknown event")
	}
	evt.Status = outbox.StatusSent
	evt.StrategyUsed = strategyUsed
	evt.LastError = ""
	return nil
}

func (s *stubOutbox) RevertToPending(_ context.Context, id int64, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	evt, ok := s.events[id]
	if !ok {
		return errors.New("unknown event")
	}
	evt.Status = outbox.StatusPending
	evt.LastError = lastError
	return nil
}

func (s *stubOutbox) get(id int64) outbox.EventRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.events[id]
}

type stubReceipts struct {
	mu       sync.Mutex
	receipts map[string]receipt.Receipt
}

func newStubReceipts() *stubReceipts {
	return &stubReceipts{receipts: make(map[string]receipt.Receipt)}
}

func (s *stubReceipts) Insert(_ context.Context, rcpt receipt.Receipt) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.receipts[rcpt.DedupeKey]; ok {
		return false, nil
	}
	s.receipts[rcpt.DedupeKey] = rcpt
	return true, nil
}

func (s *stubReceipts) Get(_ context.Context, dedupeKey string) (*receipt.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rcpt, ok := s.receipts[dedupeKey]
	if !ok {
		return nil, nil
	}
	return &rcpt, nil
}

func (s *stubReceipts) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.receipts)
}

type stubRenderer struct {
	mu    sync.Mutex
	calls int
	errs  []error
}

func (r *stubRenderer) Send(context.Context, config.Strategy, string, outbox.Payload) ([]int64, string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if len(r.errs) > 0 {
		err := r.errs[0]
		r.errs = r.errs[1:]
		if err != nil {
			return nil, "", err
		}
	}
	return []int64{int64(100 + r.calls)}, "S2", nil
}

func (r *stubRenderer) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func sendSettings() config.Settings {
	cfg := config.Default()
	cfg.TargetChat = "@deals"
	cfg.MessageStrategy = config.StrategyText
	cfg.Telegram.BotToken = "12345:token"
	return cfg
}

func pendingEvent(id int64) outbox.EventRecord {
	title := "T"
	return outbox.EventRecord{
		ID:         id,
		DedupeKey:  "dk-" + string(rune('0'+id)),
		ProductKey: "42",
		Version:    1,
		EventType:  outbox.EventProductCreated,
		Status:     outbox.StatusPending,
		Payload: outbox.Payload{
			Product: outbox.ProductSnapshot{
				ProductKey: "42",
				URL:        "https://shop.example/p/42",
				Title:      &title,
				Price:      &catalog.Price{Amount: "9.99", Currency: "$"},
				Version:    1,
			},
			Change: outbox.Change{ChangedFields: []string{}},
		},
	}
}

func TestSendDeliversAndFinalises(t *testing.T) {
	events := newStubOutbox(pendingEvent(1))
	receipts := newStubReceipts()
	renderer := &stubRenderer{}
	d := New(events, receipts, renderer, sendSettings(), nil, nil)

	result, err := d.Send(context.Background(), 1)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if result != ResultSent {
		t.Fatalf("expected sent, got %s", result)
	}
	evt := events.get(1)
	if evt.Status != outbox.StatusSent || evt.StrategyUsed != "S2" || evt.TryCount != 1 {
		t.Fatalf("unexpected final state %+v", evt)
	}
	if receipts.count() != 1 {
		t.Fatalf("expected one receipt, got %d", receipts.count())
	}
}

func TestSendSkipsNonPending(t *testing.T) {
	events := newStubOutbox(pendingEvent(1))
	d := New(events, newStubReceipts(), &stubRenderer{}, sendSettings(), nil, nil)
	if _, err := d.Send(context.Background(), 1); err != nil {
		t.Fatalf("first send: %v", err)
	}

	result, err := d.Send(context.Background(), 1)
	if err != nil {
		t.Fatalf("second send: %v", err)
	}
	if result != ResultSkipped {
		t.Fatalf("expected skipped for non-pending event, got %s", result)
	}
}

func TestSendSuppressesDuplicateByReceipt(t *testing.T) {
	evt := pendingEvent(1)
	events := newStubOutbox(evt)
	receipts := newStubReceipts()
	_, _ = receipts.Insert(context.Background(), receipt.Receipt{
		DedupeKey:  evt.DedupeKey,
		TargetChat: "@deals",
		MessageIDs: []int64{7},
		SentAt:     time.Now().UTC(),
	})
	renderer := &stubRenderer{}
	d := New(events, receipts, renderer, sendSettings(), nil, nil)

	result, err := d.Send(context.Background(), 1)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if result != ResultDuplicate {
		t.Fatalf("expected duplicate-suppressed, got %s", result)
	}
	if renderer.callCount() != 0 {
		t.Fatalf("transport must not run for a receipted event")
	}
	if events.get(1).Status != outbox.StatusSent {
		t.Fatalf("receipted event must finalise as sent")
	}
}

func TestConcurrentSendsDeliverOnce(t *testing.T) {
	events := newStubOutbox(pendingEvent(1))
	receipts := newStubReceipts()
	renderer := &stubRenderer{}
	d := New(events, receipts, renderer, sendSettings(), nil, nil)

	results := make(chan Result, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := d.Send(context.Background(), 1)
			if err != nil {
				t.Errorf("send: %v", err)
				return
			}
			results <- result
		}()
	}
	wg.Wait()
	close(results)

	tally := map[Result]int{}
	for result := range results {
		tally[result]++
	}
	if tally[ResultSent] != 1 || tally[ResultSkipped] != 1 {
		t.Fatalf("expected one winner and one skip, got %v", tally)
	}
	if renderer.callCount() != 1 {
		t.Fatalf("transport must run exactly once, got %d", renderer.callCount())
	}
	if receipts.count() != 1 {
		t.Fatalf("expected exactly one receipt, got %d", receipts.count())
	}
}

func TestFailedSendRevertsThenSucceeds(t *testing.T) {
	events := newStubOutbox(pendingEvent(1))
	receipts := newStubReceipts()
	renderer := &stubRenderer{errs: []error{errors.New("flood wait")}}
	d := New(events, receipts, renderer, sendSettings(), nil, nil)

	result, err := d.Send(context.Background(), 1)
	if err != nil {
		t.Fatalf("first send: %v", err)
	}
	if result != ResultFailed {
		t.Fatalf("expected failed, got %s", result)
	}
	evt := events.get(1)
	if evt.Status != outbox.StatusPending || evt.TryCount != 1 || evt.LastError != "flood wait" {
		t.Fatalf("failed event must revert with last_error, got %+v", evt)
	}
	if receipts.count() != 0 {
		t.Fatalf("failed send must leave no receipt")
	}

	result, err = d.Send(context.Background(), 1)
	if err != nil {
		t.Fatalf("second send: %v", err)
	}
	if result != ResultSent {
		t.Fatalf("expected sent on retry, got %s", result)
	}
	evt = events.get(1)
	if evt.Status != outbox.StatusSent || evt.TryCount != 2 || evt.LastError != "" {
		t.Fatalf("retried event state %+v", evt)
	}
}

func TestPollValidatesConfiguration(t *testing.T) {
	d := New(newStubOutbox(), newStubReceipts(), &stubRenderer{}, config.Default(), nil, nil)
	if _, err := d.Poll(context.Background(), 20); err == nil {
		t.Fatalf("expected config error without target chat")
	}
}

func TestPollDispatchesBatchInline(t *testing.T) {
	events := newStubOutbox(pendingEvent(1), pendingEvent(2))
	receipts := newStubReceipts()
	renderer := &stubRenderer{}
	d := New(events, receipts, renderer, sendSettings(), nil, nil)

	count, err := d.Poll(context.Background(), 20)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 dispatched, got %d", count)
	}
	if renderer.callCount() != 2 {
		t.Fatalf("expected 2 sends, got %d", renderer.callCount())
	}
	if events.get(1).Status != outbox.StatusSent || events.get(2).Status != outbox.StatusSent {
		t.Fatalf("both events must finalise as sent")
	}
}
