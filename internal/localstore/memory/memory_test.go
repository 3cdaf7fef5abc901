package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"dukanpos/terminal/internal/clock"
	"dukanpos/terminal/internal/domain"
	"dukanpos/terminal/internal/localstore"
)

func TestEnqueueAndStatusLifecycle(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now().In(clock.BusinessZone)

	sale := &domain.PendingSale{
		LocalID:           "s-1",
		TempInvoiceNumber: "OFF-1-abc",
		InvoiceType:       domain.InvoiceTypeSale,
		TotalCents:        1000,
		BranchID:          "b-1",
		Items: []domain.PendingSaleItem{
			{ProductID: "p-1", Quantity: 4, UnitPriceCents: 250, BranchID: "b-1"},
		},
		CreatedAt:  now,
		SyncStatus: domain.SyncStatusPending,
	}
	if err := s.EnqueueSale(ctx, sale); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	inv, err := s.GetInventory(ctx, "p-1", "b-1")
	if err != nil {
		t.Fatalf("inventory: %v", err)
	}
	if inv.Quantity != -4 {
		t.Fatalf("expected -4, got %d", inv.Quantity)
	}

	dup := *sale
	dup.LocalID = "s-2"
	if err := s.EnqueueSale(ctx, &dup); !errors.Is(err, localstore.ErrDuplicateInvoiceNumber) {
		t.Fatalf("expected duplicate error, got %v", err)
	}

	if err := s.MarkSyncing(ctx, "s-1"); err != nil {
		t.Fatalf("syncing: %v", err)
	}
	if err := s.MarkSynced(ctx, "s-1", "INV-42"); err != nil {
		t.Fatalf("synced: %v", err)
	}
	got, err := s.GetPendingSale(ctx, "s-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.SyncStatus != domain.SyncStatusSynced || got.ServerInvoiceNumber != "INV-42" {
		t.Fatalf("unexpected sale after sync: %+v", got)
	}

	unsynced, err := s.ListUnsynced(ctx, 5)
	if err != nil {
		t.Fatalf("unsynced: %v", err)
	}
	if len(unsynced) != 0 {
		t.Fatalf("expected empty queue, got %+v", unsynced)
	}
}

func TestMarkFailedIncrementsRetry(t *testing.T) {
	s := New()
	ctx := context.Background()

	sale := &domain.PendingSale{
		LocalID:           "f-1",
		TempInvoiceNumber: "OFF-2-def",
		InvoiceType:       domain.InvoiceTypeSale,
		Items:             []domain.PendingSaleItem{{ProductID: "p", Quantity: 1, BranchID: "b"}},
		CreatedAt:         time.Now(),
		SyncStatus:        domain.SyncStatusPending,
	}
	if err := s.EnqueueSale(ctx, sale); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := s.MarkFailed(ctx, "f-1", "network unreachable"); err != nil {
		t.Fatalf("fail: %v", err)
	}
	got, _ := s.GetPendingSale(ctx, "f-1")
	if got.RetryCount != 1 || got.LastError != "network unreachable" {
		t.Fatalf("retry bookkeeping wrong: %+v", got)
	}

	// Failed sales remain eligible until the retry cap.
	unsynced, _ := s.ListUnsynced(ctx, 3)
	if len(unsynced) != 1 {
		t.Fatalf("expected failed sale still eligible, got %d", len(unsynced))
	}
	unsynced, _ = s.ListUnsynced(ctx, 1)
	if len(unsynced) != 0 {
		t.Fatalf("expected retry cap to exclude it, got %d", len(unsynced))
	}
}

func TestDeviceIDGeneratedOnce(t *testing.T) {
	s := New()
	ctx := context.Background()
	a, err := s.DeviceID(ctx)
	if err != nil {
		t.Fatalf("device id: %v", err)
	}
	b, _ := s.DeviceID(ctx)
	if a == "" || a != b {
		t.Fatalf("device id not stable: %q %q", a, b)
	}
}
