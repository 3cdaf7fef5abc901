package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"dukanpos/terminal/internal/domain"
	localmem "dukanpos/terminal/internal/localstore/memory"
	"dukanpos/terminal/internal/netcheck"
)

type scriptedCommitter struct {
	mu    sync.Mutex
	calls []string
	// errs maps local id to the error returned; missing ids succeed.
	errs map[string]error
	// numbers maps local id to the invoice number returned.
	numbers map[string]string
}

func (c *scriptedCommitter) CommitPendingSale(ctx context.Context, sale *domain.PendingSale) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, sale.LocalID)
	if err, ok := c.errs[sale.LocalID]; ok && err != nil {
		n := c.numbers[sale.LocalID]
		return n, err
	}
	n := c.numbers[sale.LocalID]
	if n == "" {
		n = "INV-" + sale.LocalID
	}
	return n, nil
}

func (c *scriptedCommitter) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

func enqueue(t *testing.T, store *localmem.Store, id string, createdAt time.Time) {
	t.Helper()
	err := store.EnqueueSale(context.Background(), &domain.PendingSale{
		LocalID:           id,
		TempInvoiceNumber: "OFF-" + id,
		InvoiceType:       domain.InvoiceTypeSale,
		TotalCents:        100,
		BranchID:          "b",
		Items:             []domain.PendingSaleItem{{ProductID: "p", Quantity: 1, BranchID: "b"}},
		CreatedAt:         createdAt,
		SyncStatus:        domain.SyncStatusPending,
	})
	if err != nil {
		t.Fatalf("enqueue %s: %v", id, err)
	}
}

func alwaysOnline() netcheck.Prober {
	return netcheck.Func(func(ctx context.Context) bool { return true })
}

func TestSyncPendingDrainsOldestFirst(t *testing.T) {
	store := localmem.New()
	base := time.Date(2025, 4, 1, 8, 0, 0, 0, time.UTC)
	enqueue(t, store, "b-newer", base.Add(time.Minute))
	enqueue(t, store, "a-older", base)

	committer := &scriptedCommitter{}
	m := New(store, committer, alwaysOnline(), zerolog.Nop(), time.Second, 5)

	report, err := m.SyncPending(context.Background())
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if report.Attempted != 2 || report.Succeeded != 2 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if committer.calls[0] != "a-older" || committer.calls[1] != "b-newer" {
		t.Fatalf("expected oldest first, got %v", committer.calls)
	}

	sale, err := store.GetPendingSale(context.Background(), "a-older")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if sale.SyncStatus != domain.SyncStatusSynced || sale.ServerInvoiceNumber != "INV-a-older" {
		t.Fatalf("sale not marked synced: %+v", sale)
	}
	entries, _ := store.ListSyncLog(context.Background(), "a-older")
	var sawSuccess bool
	for _, e := range entries {
		if e.Action == domain.SyncActionSuccess {
			sawSuccess = true
		}
	}
	if !sawSuccess {
		t.Fatalf("expected success log entry, got %+v", entries)
	}
}

func TestSyncSkippedWhenOffline(t *testing.T) {
	store := localmem.New()
	enqueue(t, store, "s-1", time.Now())
	committer := &scriptedCommitter{}
	offline := netcheck.Func(func(ctx context.Context) bool { return false })
	m := New(store, committer, offline, zerolog.Nop(), time.Second, 5)

	report, err := m.SyncPending(context.Background())
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if report.Attempted != 0 || committer.callCount() != 0 {
		t.Fatalf("offline pass must not touch the queue: %+v", report)
	}
}

func TestTransientFailureStopsPass(t *testing.T) {
	store := localmem.New()
	base := time.Now()
	enqueue(t, store, "first", base)
	enqueue(t, store, "second", base.Add(time.Second))

	committer := &scriptedCommitter{
		errs: map[string]error{
			"first": fmt.Errorf("write: %w", syscall.ECONNRESET),
		},
	}
	m := New(store, committer, alwaysOnline(), zerolog.Nop(), time.Second, 5)

	report, err := m.SyncPending(context.Background())
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if report.Attempted != 1 || report.Failed != 1 {
		t.Fatalf("expected pass to stop at first failure: %+v", report)
	}
	if committer.callCount() != 1 {
		t.Fatalf("remaining sales must wait for the next pass, calls=%d", committer.callCount())
	}

	sale, _ := store.GetPendingSale(context.Background(), "first")
	if sale.SyncStatus != domain.SyncStatusFailed || sale.RetryCount != 1 {
		t.Fatalf("failure bookkeeping wrong: %+v", sale)
	}

	// Connection back: the next pass retries the failed sale and logs it.
	committer.errs = nil
	report, err = m.SyncPending(context.Background())
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if report.Succeeded != 2 {
		t.Fatalf("expected both sales synced, got %+v", report)
	}
	entries, _ := store.ListSyncLog(context.Background(), "first")
	var sawRetry bool
	for _, e := range entries {
		if e.Action == domain.SyncActionRetry {
			sawRetry = true
		}
	}
	if !sawRetry {
		t.Fatalf("expected retry log entry, got %+v", entries)
	}
}

func TestRetryCapExcludesExhaustedSales(t *testing.T) {
	store := localmem.New()
	enqueue(t, store, "doomed", time.Now())
	committer := &scriptedCommitter{
		errs: map[string]error{"doomed": errors.New("invoice rejected")},
	}
	m := New(store, committer, alwaysOnline(), zerolog.Nop(), time.Second, 2)

	for i := 0; i < 3; i++ {
		if _, err := m.SyncPending(context.Background()); err != nil {
			t.Fatalf("pass %d: %v", i, err)
		}
	}
	// Two attempts allowed, the third pass must skip it.
	if committer.callCount() != 2 {
		t.Fatalf("expected 2 attempts, got %d", committer.callCount())
	}
}

func TestPartialCommitMarkedSynced(t *testing.T) {
	store := localmem.New()
	enqueue(t, store, "half", time.Now())
	partialErr := errors.New("invoice committed with incomplete side effects")
	committer := &scriptedCommitter{
		errs:    map[string]error{"half": partialErr},
		numbers: map[string]string{"half": "INV-2025-000007"},
	}
	m := New(store, committer, alwaysOnline(), zerolog.Nop(), time.Second, 5)
	m.PartialIs = func(err error) bool { return errors.Is(err, partialErr) }

	report, err := m.SyncPending(context.Background())
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if report.Succeeded != 1 {
		t.Fatalf("partial commit must count as synced: %+v", report)
	}
	sale, _ := store.GetPendingSale(context.Background(), "half")
	if sale.SyncStatus != domain.SyncStatusSynced || sale.ServerInvoiceNumber != "INV-2025-000007" {
		t.Fatalf("partial commit not recorded: %+v", sale)
	}
	entries, _ := store.ListSyncLog(context.Background(), "half")
	var sawErrorDetail bool
	for _, e := range entries {
		if e.Action == domain.SyncActionSuccess && e.Error != "" {
			sawErrorDetail = true
		}
	}
	if !sawErrorDetail {
		t.Fatalf("expected the side-effect failure in the log, got %+v", entries)
	}
}

func TestCleanupSynced(t *testing.T) {
	store := localmem.New()
	enqueue(t, store, "done", time.Now())
	enqueue(t, store, "waiting", time.Now().Add(time.Second))
	if err := store.MarkSynced(context.Background(), "done", "INV-1"); err != nil {
		t.Fatalf("mark: %v", err)
	}

	m := New(store, &scriptedCommitter{}, alwaysOnline(), zerolog.Nop(), time.Second, 5)
	n, err := m.CleanupSynced(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("cleanup: n=%d err=%v", n, err)
	}
	if _, err := store.GetPendingSale(context.Background(), "waiting"); err != nil {
		t.Fatalf("pending sale must survive cleanup: %v", err)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	store := localmem.New()
	m := New(store, &scriptedCommitter{}, alwaysOnline(), zerolog.Nop(), 10*time.Millisecond, 5)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not stop after cancel")
	}
}
