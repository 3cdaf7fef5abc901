package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"dukanpos/terminal/internal/clock"
	"dukanpos/terminal/internal/domain"
	"dukanpos/terminal/internal/localstore"
	"dukanpos/terminal/internal/xid"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "terminal.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testSale(localID string, createdAt time.Time) *domain.PendingSale {
	return &domain.PendingSale{
		LocalID:           localID,
		TempInvoiceNumber: xid.TempInvoiceNumber(createdAt),
		InvoiceType:       domain.InvoiceTypeSale,
		TotalCents:        2500,
		BranchID:          "branch-1",
		Items: []domain.PendingSaleItem{
			{ProductID: "prod-1", Quantity: 2, UnitPriceCents: 1000, BranchID: "branch-1"},
			{ProductID: "prod-2", Quantity: 1, UnitPriceCents: 500, BranchID: "branch-1"},
		},
		CreatedAt:  createdAt,
		SyncStatus: domain.SyncStatusPending,
	}
}

func TestEnqueueSaleAppliesInventoryDeltas(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().In(clock.BusinessZone)

	err := s.UpsertInventory(ctx, []domain.InventoryRecord{
		{ProductID: "prod-1", BranchID: "branch-1", Quantity: 10, UpdatedAt: now},
	})
	if err != nil {
		t.Fatalf("seed inventory: %v", err)
	}

	if err := s.EnqueueSale(ctx, testSale("sale-1", now)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	inv, err := s.GetInventory(ctx, "prod-1", "branch-1")
	if err != nil {
		t.Fatalf("get inventory: %v", err)
	}
	if inv.Quantity != 8 {
		t.Fatalf("expected 8 after selling 2, got %d", inv.Quantity)
	}

	// prod-2 had no cached row; the delta creates one and goes negative.
	inv, err = s.GetInventory(ctx, "prod-2", "branch-1")
	if err != nil {
		t.Fatalf("get inventory prod-2: %v", err)
	}
	if inv.Quantity != -1 {
		t.Fatalf("expected -1 for uncached product, got %d", inv.Quantity)
	}

	entries, err := s.ListSyncLog(ctx, "sale-1")
	if err != nil {
		t.Fatalf("list sync log: %v", err)
	}
	if len(entries) != 1 || entries[0].Action != domain.SyncActionCreate {
		t.Fatalf("expected one create entry, got %+v", entries)
	}
}

func TestEnqueueSaleReturnRestocks(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().In(clock.BusinessZone)

	sale := testSale("ret-1", now)
	sale.InvoiceType = domain.InvoiceTypeReturn
	sale.Items = []domain.PendingSaleItem{
		{ProductID: "prod-1", Quantity: -3, UnitPriceCents: 1000, BranchID: "branch-1"},
	}
	if err := s.EnqueueSale(ctx, sale); err != nil {
		t.Fatalf("enqueue return: %v", err)
	}
	inv, err := s.GetInventory(ctx, "prod-1", "branch-1")
	if err != nil {
		t.Fatalf("get inventory: %v", err)
	}
	if inv.Quantity != 3 {
		t.Fatalf("expected return to add 3 back, got %d", inv.Quantity)
	}
}

func TestEnqueueSaleDuplicateInvoiceNumber(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().In(clock.BusinessZone)

	first := testSale("dup-1", now)
	if err := s.EnqueueSale(ctx, first); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	second := testSale("dup-2", now)
	second.TempInvoiceNumber = first.TempInvoiceNumber
	err := s.EnqueueSale(ctx, second)
	if !errors.Is(err, localstore.ErrDuplicateInvoiceNumber) {
		t.Fatalf("expected ErrDuplicateInvoiceNumber, got %v", err)
	}
	// The rejected sale must leave no trace: no row, no inventory delta.
	if _, err := s.GetPendingSale(ctx, "dup-2"); !errors.Is(err, localstore.ErrNotFound) {
		t.Fatalf("expected rejected sale absent, got %v", err)
	}
}

func TestSaleRoundTripPreservesCreatedAtOffset(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	created := time.Date(2025, 6, 1, 14, 30, 0, 123456000, clock.BusinessZone)

	sale := testSale("rt-1", created)
	sale.Items[0].SelectedColors = map[string]int{"red": 1, "blue": 1}
	sale.Payments = []domain.PaymentEntry{
		{ID: "pay-1", AmountCents: 2000, MethodID: "cash", MethodName: "Cash"},
		{ID: "pay-2", AmountCents: 500, MethodID: "card", MethodName: "Card"},
	}
	if err := s.EnqueueSale(ctx, sale); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	got, err := s.GetPendingSale(ctx, "rt-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.CreatedAt.Equal(created) {
		t.Fatalf("created_at drifted: want %v got %v", created, got.CreatedAt)
	}
	if _, off := got.CreatedAt.Zone(); off != 2*60*60 {
		t.Fatalf("expected business-zone offset, got %d", off)
	}
	if len(got.Items) != 2 || got.Items[0].SelectedColors["red"] != 1 {
		t.Fatalf("items not round-tripped: %+v", got.Items)
	}
	if len(got.Payments) != 2 || got.Payments[1].AmountCents != 500 {
		t.Fatalf("payments not round-tripped: %+v", got.Payments)
	}
}

func TestStatusTransitionsAndRetryCap(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Now().In(clock.BusinessZone)

	for i, id := range []string{"q-1", "q-2", "q-3"} {
		sale := testSale(id, base.Add(time.Duration(i)*time.Second))
		if err := s.EnqueueSale(ctx, sale); err != nil {
			t.Fatalf("enqueue %s: %v", id, err)
		}
	}

	if err := s.MarkSyncing(ctx, "q-1"); err != nil {
		t.Fatalf("mark syncing: %v", err)
	}
	if err := s.MarkSynced(ctx, "q-1", "INV-2025-000123"); err != nil {
		t.Fatalf("mark synced: %v", err)
	}
	got, err := s.GetPendingSale(ctx, "q-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.SyncStatus != domain.SyncStatusSynced || got.ServerInvoiceNumber != "INV-2025-000123" || got.SyncedAt == nil {
		t.Fatalf("synced sale not recorded: %+v", got)
	}

	for i := 0; i < 3; i++ {
		if err := s.MarkFailed(ctx, "q-2", "connection refused"); err != nil {
			t.Fatalf("mark failed: %v", err)
		}
	}

	// q-2 exhausted its retries; only q-3 remains eligible.
	unsynced, err := s.ListUnsynced(ctx, 3)
	if err != nil {
		t.Fatalf("list unsynced: %v", err)
	}
	if len(unsynced) != 1 || unsynced[0].LocalID != "q-3" {
		t.Fatalf("expected only q-3, got %+v", unsynced)
	}

	stats, err := s.CountByStatus(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if stats.Pending != 1 || stats.Synced != 1 || stats.Failed != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	n, err := s.PurgeSynced(ctx)
	if err != nil || n != 1 {
		t.Fatalf("purge: n=%d err=%v", n, err)
	}
}

func TestListUnsyncedOrdersByCreatedAt(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, clock.BusinessZone)

	// Insert newest first to prove ordering comes from created_at.
	for i := 2; i >= 0; i-- {
		sale := testSale(string(rune('a'+i)), base.Add(time.Duration(i)*time.Minute))
		if err := s.EnqueueSale(ctx, sale); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	unsynced, err := s.ListUnsynced(ctx, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(unsynced) != 3 {
		t.Fatalf("expected 3, got %d", len(unsynced))
	}
	for i := 1; i < len(unsynced); i++ {
		if unsynced[i].CreatedAt.Before(unsynced[i-1].CreatedAt) {
			t.Fatalf("out of order at %d: %+v", i, unsynced)
		}
	}
}

func TestDeviceIDStableAcrossReopens(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "terminal.db")
	ctx := context.Background()

	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	first, err := s.DeviceID(ctx)
	if err != nil {
		t.Fatalf("device id: %v", err)
	}
	s.Close()

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	second, err := s2.DeviceID(ctx)
	if err != nil {
		t.Fatalf("device id after reopen: %v", err)
	}
	if first == "" || first != second {
		t.Fatalf("device id changed across reopen: %q vs %q", first, second)
	}
}
