// Package service orchestrates sale creation across the local store and the
// remote ledger. Sales prefer the online path; when the ledger is unreachable
// they are queued locally and replayed by the sync manager.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"dukanpos/terminal/internal/backend"
	"dukanpos/terminal/internal/cache"
	"dukanpos/terminal/internal/clock"
	"dukanpos/terminal/internal/costing"
	"dukanpos/terminal/internal/domain"
	"dukanpos/terminal/internal/localstore"
	"dukanpos/terminal/internal/netcheck"
	"dukanpos/terminal/internal/xid"
)

var (
	ErrValidation = errors.New("invalid sale request")

	// ErrPartiallyCompleted means the invoice itself committed but a
	// follow-up write (payments, drawer) failed. The invoice must not be
	// retried; the failed side effect needs manual follow-up.
	ErrPartiallyCompleted = errors.New("invoice committed with incomplete side effects")
)

type Service struct {
	local       localstore.Store
	ledger      backend.Ledger
	snapshots   cache.SnapshotCache
	probe       netcheck.Prober
	clock       clock.Clock
	log         zerolog.Logger
	branchID    string
	snapshotTTL time.Duration
}

func New(local localstore.Store, ledger backend.Ledger, snapshots cache.SnapshotCache, probe netcheck.Prober, clk clock.Clock, log zerolog.Logger, branchID string, snapshotTTL time.Duration) *Service {
	if snapshots == nil {
		snapshots = cache.NewNoop()
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &Service{
		local:       local,
		ledger:      ledger,
		snapshots:   snapshots,
		probe:       probe,
		clock:       clk,
		log:         log,
		branchID:    branchID,
		snapshotTTL: snapshotTTL,
	}
}

// CreateSalesInvoice records a sale. Online it commits straight to the
// ledger; offline, or when the ledger drops the connection before an invoice
// exists, it queues the sale locally and reports IsOffline.
func (s *Service) CreateSalesInvoice(ctx context.Context, req *domain.SaleRequest) (*domain.SaleResult, error) {
	sale, err := s.buildSale(ctx, req)
	if err != nil {
		return nil, err
	}

	if !s.probe.Online(ctx) {
		return s.enqueue(ctx, sale)
	}

	created, warnings, err := s.commitOnline(ctx, sale)
	if err != nil {
		if errors.Is(err, ErrPartiallyCompleted) {
			return &domain.SaleResult{
				Success:           true,
				InvoiceID:         created.ID,
				InvoiceNumber:     created.InvoiceNumber,
				TotalCents:        sale.TotalCents,
				Message:           "invoice committed, some records need follow-up",
				InventoryWarnings: warnings,
			}, err
		}
		// Only fall back when nothing reached the ledger: a transient
		// failure after the invoice exists must not re-enter the queue.
		if netcheck.IsTransient(err) {
			s.log.Warn().Err(err).Str("temp_invoice", sale.TempInvoiceNumber).
				Msg("ledger unreachable mid-sale, queueing offline")
			return s.enqueue(ctx, sale)
		}
		return nil, err
	}
	return &domain.SaleResult{
		Success:           true,
		InvoiceID:         created.ID,
		InvoiceNumber:     created.InvoiceNumber,
		TotalCents:        sale.TotalCents,
		Message:           "invoice created",
		InventoryWarnings: warnings,
	}, nil
}

// CreateOfflineSale queues a sale locally without probing the network. The
// UI uses it when the operator has explicitly switched to offline mode.
func (s *Service) CreateOfflineSale(ctx context.Context, req *domain.SaleRequest) (*domain.SaleResult, error) {
	sale, err := s.buildSale(ctx, req)
	if err != nil {
		return nil, err
	}
	return s.enqueue(ctx, sale)
}

func (s *Service) enqueue(ctx context.Context, sale *domain.PendingSale) (*domain.SaleResult, error) {
	if err := s.local.EnqueueSale(ctx, sale); err != nil {
		return nil, fmt.Errorf("queue offline sale: %w", err)
	}
	s.log.Info().Str("temp_invoice", sale.TempInvoiceNumber).
		Int64("total_cents", sale.TotalCents).Msg("sale queued offline")
	return &domain.SaleResult{
		Success:       true,
		InvoiceID:     sale.LocalID,
		InvoiceNumber: sale.TempInvoiceNumber,
		TotalCents:    sale.TotalCents,
		Message:       "sale saved offline, will sync when connection returns",
		IsOffline:     true,
	}, nil
}

// buildSale validates the request and normalizes it into a PendingSale:
// quantities are negated for returns, timestamps land in the business zone,
// and totals are computed from the lines rather than trusted from the caller.
func (s *Service) buildSale(ctx context.Context, req *domain.SaleRequest) (*domain.PendingSale, error) {
	if req == nil || len(req.Items) == 0 {
		return nil, fmt.Errorf("%w: sale has no items", ErrValidation)
	}
	if req.BranchID == "" {
		return nil, fmt.Errorf("%w: missing branch", ErrValidation)
	}
	if req.PaymentMethodID == "" && len(req.PaymentSplits) == 0 {
		return nil, fmt.Errorf("%w: missing payment method", ErrValidation)
	}
	if req.CreditCents < 0 {
		return nil, fmt.Errorf("%w: negative credit", ErrValidation)
	}

	sign := 1
	invoiceType := domain.InvoiceTypeSale
	if req.IsReturn {
		sign = -1
		invoiceType = domain.InvoiceTypeReturn
	}

	var totalCents, discountCents, profitCents int64
	items := make([]domain.PendingSaleItem, 0, len(req.Items))
	for i, line := range req.Items {
		if line.ProductID == "" {
			return nil, fmt.Errorf("%w: item %d missing product", ErrValidation, i)
		}
		if line.Quantity <= 0 {
			return nil, fmt.Errorf("%w: item %d quantity must be positive", ErrValidation, i)
		}
		if line.UnitPriceCents < 0 || line.DiscountCents < 0 {
			return nil, fmt.Errorf("%w: item %d has negative amounts", ErrValidation, i)
		}
		branchID := line.BranchID
		if branchID == "" {
			branchID = req.BranchID
		}
		qty := int64(line.Quantity)
		totalCents += qty*line.UnitPriceCents - line.DiscountCents
		discountCents += line.DiscountCents
		profitCents += qty * (line.UnitPriceCents - line.UnitCostCents)
		items = append(items, domain.PendingSaleItem{
			ProductID:      line.ProductID,
			ProductName:    line.ProductName,
			Quantity:       sign * line.Quantity,
			UnitPriceCents: line.UnitPriceCents,
			UnitCostCents:  line.UnitCostCents,
			DiscountCents:  line.DiscountCents,
			BranchID:       branchID,
			VariantID:      line.VariantID,
			Notes:          line.Notes,
			SelectedColors: line.SelectedColors,
		})
	}
	if totalCents < 0 {
		return nil, fmt.Errorf("%w: discounts exceed sale total", ErrValidation)
	}
	totalCents *= int64(sign)
	profitCents *= int64(sign)

	payments := append([]domain.PaymentEntry(nil), req.PaymentSplits...)
	if len(payments) == 0 {
		payments = []domain.PaymentEntry{{
			ID:          uuid.NewString(),
			AmountCents: totalCents - req.CreditCents,
			MethodID:    req.PaymentMethodID,
		}}
	} else {
		var paid int64
		for i := range payments {
			p := &payments[i]
			if p.MethodID == "" {
				return nil, fmt.Errorf("%w: split %d missing payment method", ErrValidation, i)
			}
			if p.ID == "" {
				p.ID = uuid.NewString()
			}
			paid += p.AmountCents
		}
		if !req.IsReturn && paid+req.CreditCents != totalCents {
			return nil, fmt.Errorf("%w: splits (%d) plus credit (%d) do not cover total (%d)",
				ErrValidation, paid, req.CreditCents, totalCents)
		}
	}

	deviceID, err := s.local.DeviceID(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve device id: %w", err)
	}
	now := s.clock.Now()
	return &domain.PendingSale{
		LocalID:           xid.New("sale"),
		TempInvoiceNumber: xid.TempInvoiceNumber(now),
		InvoiceType:       invoiceType,
		TotalCents:        totalCents,
		DiscountCents:     discountCents,
		ProfitCents:       profitCents,
		PaymentMethodID:   req.PaymentMethodID,
		BranchID:          req.BranchID,
		BranchName:        req.BranchName,
		CustomerID:        req.CustomerID,
		CustomerName:      req.CustomerName,
		DrawerID:          req.DrawerID,
		DrawerName:        req.DrawerName,
		Notes:             req.Notes,
		Items:             items,
		Payments:          payments,
		CreditCents:       req.CreditCents,
		UserID:            req.UserID,
		UserName:          req.UserName,
		CreatedAt:         now,
		SyncStatus:        domain.SyncStatusPending,
		DeviceID:          deviceID,
	}, nil
}

// CommitPendingSale pushes one queued sale to the ledger and returns the
// server invoice number. It is safe to call again after any failure: the
// temp invoice number keys the invoice server-side, so a replay adopts the
// already-committed invoice instead of creating a second one.
func (s *Service) CommitPendingSale(ctx context.Context, sale *domain.PendingSale) (string, error) {
	created, warnings, err := s.commitOnline(ctx, sale)
	if len(warnings) > 0 {
		s.log.Warn().Strs("warnings", warnings).
			Str("temp_invoice", sale.TempInvoiceNumber).Msg("sync side-effect warnings")
	}
	if err != nil && !errors.Is(err, ErrPartiallyCompleted) {
		return "", err
	}
	return created.InvoiceNumber, err
}

// commitOnline writes the sale to the ledger. On success created is non-nil;
// a nil created means nothing reached the server and the caller may retry or
// queue. ErrPartiallyCompleted always carries a non-nil created.
func (s *Service) commitOnline(ctx context.Context, sale *domain.PendingSale) (*backend.CreatedInvoice, []string, error) {
	// Already-committed guard: a previous attempt may have died after the
	// invoice landed. Adopt it rather than burning a new sequence number.
	if existing, err := s.ledger.GetInvoiceByOfflineRef(ctx, sale.TempInvoiceNumber); err == nil {
		s.log.Info().Str("invoice", existing.InvoiceNumber).
			Str("temp_invoice", sale.TempInvoiceNumber).Msg("sale already committed, adopting")
		existing.Existing = true
		return existing, nil, nil
	} else if !errors.Is(err, backend.ErrNotFound) {
		return nil, nil, fmt.Errorf("check committed invoice: %w", err)
	}

	invoiceNumber, err := s.ledger.NextInvoiceNumber(ctx, sale.BranchID, sale.InvoiceType)
	if err != nil {
		return nil, nil, fmt.Errorf("next invoice number: %w", err)
	}

	header := backend.InvoiceHeader{
		InvoiceType:     sale.InvoiceType,
		OfflineRef:      sale.TempInvoiceNumber,
		TotalCents:      sale.TotalCents,
		TaxCents:        sale.TaxCents,
		DiscountCents:   sale.DiscountCents,
		ProfitCents:     sale.ProfitCents,
		PaymentMethodID: sale.PaymentMethodID,
		BranchID:        sale.BranchID,
		CustomerID:      sale.CustomerID,
		DrawerID:        sale.DrawerID,
		Notes:           sale.Notes,
		CreditCents:     sale.CreditCents,
		UserID:          sale.UserID,
		DeviceID:        sale.DeviceID,
		CreatedAt:       sale.CreatedAt,
	}
	items := make([]backend.InvoiceItem, 0, len(sale.Items))
	for _, it := range sale.Items {
		items = append(items, backend.InvoiceItem{
			ProductID:      it.ProductID,
			Quantity:       it.Quantity,
			UnitPriceCents: it.UnitPriceCents,
			UnitCostCents:  it.UnitCostCents,
			DiscountCents:  it.DiscountCents,
			BranchID:       it.BranchID,
			VariantID:      it.VariantID,
			Notes:          it.Notes,
		})
	}

	created, err := s.ledger.CreateInvoice(ctx, header, invoiceNumber, items)
	if err != nil {
		return nil, nil, fmt.Errorf("create invoice: %w", err)
	}
	if created.Existing {
		// Lost the race to our own earlier attempt; side effects already ran.
		return created, nil, nil
	}

	warnings := s.applySideEffects(ctx, sale, created)

	if err := s.recordPayments(ctx, sale, created); err != nil {
		return created, warnings, fmt.Errorf("%w: %v", ErrPartiallyCompleted, err)
	}
	return created, warnings, nil
}

// applySideEffects adjusts server stock and variant counts. Failures here
// degrade to warnings: the invoice is the record of truth and stock is
// reconciled by the nightly audit.
func (s *Service) applySideEffects(ctx context.Context, sale *domain.PendingSale, created *backend.CreatedInvoice) []string {
	var (
		g, gctx  = errgroup.WithContext(ctx)
		warnCh   = make(chan string, len(sale.Items)*2)
		isReturn = sale.InvoiceType == domain.InvoiceTypeReturn
	)
	for _, item := range sale.Items {
		item := item
		g.Go(func() error {
			adj, err := s.ledger.AdjustStock(gctx, item.ProductID, item.BranchID, -item.Quantity)
			if err != nil {
				warnCh <- fmt.Sprintf("stock adjust failed for %s: %v", item.ProductID, err)
				return nil
			}
			if adj.WentNegative {
				warnCh <- fmt.Sprintf("stock for %s went negative (%d)", item.ProductID, adj.NewQuantity)
			}
			return nil
		})
		if item.VariantID != "" && len(item.SelectedColors) > 0 {
			g.Go(func() error {
				if err := s.ledger.AdjustVariantStock(gctx, item.VariantID, item.SelectedColors, !isReturn); err != nil {
					warnCh <- fmt.Sprintf("variant adjust failed for %s: %v", item.VariantID, err)
				}
				return nil
			})
		}
	}
	g.Wait()
	close(warnCh)
	var warnings []string
	for w := range warnCh {
		warnings = append(warnings, w)
	}
	if len(warnings) > 0 {
		s.log.Warn().Str("invoice", created.InvoiceNumber).
			Strs("warnings", warnings).Msg("inventory side effects degraded")
	}
	return warnings
}

func (s *Service) recordPayments(ctx context.Context, sale *domain.PendingSale, created *backend.CreatedInvoice) error {
	rows := make([]backend.PaymentRow, 0, len(sale.Payments))
	for _, p := range sale.Payments {
		rows = append(rows, backend.PaymentRow{
			InvoiceID:   created.ID,
			MethodID:    p.MethodID,
			AmountCents: p.AmountCents,
			CreatedAt:   sale.CreatedAt,
		})
	}
	if err := s.ledger.RecordPayments(ctx, rows); err != nil {
		return fmt.Errorf("record payments: %w", err)
	}

	// One drawer record per distinct method, written even when no drawer was
	// selected so method totals stay reportable. The balance moves only for
	// cash methods against a real drawer.
	var methodOrder []string
	methodTotals := make(map[string]int64)
	for _, p := range sale.Payments {
		if _, seen := methodTotals[p.MethodID]; !seen {
			methodOrder = append(methodOrder, p.MethodID)
		}
		methodTotals[p.MethodID] += p.AmountCents
	}
	for _, methodID := range methodOrder {
		moved := false
		if sale.DrawerID != "" {
			if method, err := s.local.GetPaymentMethod(ctx, methodID); err == nil {
				moved = method.Type == domain.PaymentTypeCash
			}
		}
		err := s.ledger.RecordDrawerTransaction(ctx, backend.DrawerTransaction{
			DrawerID:     sale.DrawerID,
			InvoiceID:    created.ID,
			MethodID:     methodID,
			AmountCents:  methodTotals[methodID],
			BalanceMoved: moved,
			CreatedAt:    sale.CreatedAt,
		})
		if err != nil {
			return fmt.Errorf("record drawer transaction: %w", err)
		}
	}
	return nil
}

// UpdateCostAfterPurchase folds one purchase line into the running weighted
// average. preStockQty is the stock level before the purchase was received;
// when nil the basis is derived from current total inventory minus the
// just-added quantity, which is racy against concurrent sales.
func (s *Service) UpdateCostAfterPurchase(ctx context.Context, productID string, qty int, unitCostCents int64, preStockQty *int) error {
	if qty <= 0 {
		return fmt.Errorf("%w: purchase quantity must be positive", ErrValidation)
	}
	tracking, err := s.ledger.GetCostTracking(ctx, productID)
	if errors.Is(err, backend.ErrNotFound) {
		// No tracking yet: the product's stored cost price is the basis, so
		// pre-tracking stock valued at the old cost still blends in.
		tracking = &domain.ProductCostTracking{ProductID: productID}
		if p, perr := s.ledger.GetProduct(ctx, productID); perr == nil {
			tracking.AvgCostCents = p.CostPriceCents
		} else if !errors.Is(perr, backend.ErrNotFound) {
			return fmt.Errorf("load product cost basis: %w", perr)
		}
	} else if err != nil {
		return fmt.Errorf("load cost tracking: %w", err)
	}

	var currentQty int
	if preStockQty != nil {
		currentQty = *preStockQty
	} else {
		total, err := s.ledger.TotalStock(ctx, productID)
		if err != nil {
			return fmt.Errorf("load stock for cost basis: %w", err)
		}
		currentQty = total - qty
	}
	res := costing.WeightedAverage(currentQty, tracking.AvgCostCents, qty, unitCostCents)

	tracking.AvgCostCents = res.UnitCostCents
	tracking.TotalQtyPurchased += qty
	tracking.TotalCostCents += int64(qty) * unitCostCents
	tracking.LastPurchasePriceCents = unitCostCents
	tracking.LastPurchaseAt = s.clock.Now()
	tracking.HasPurchaseHistory = true
	if err := s.ledger.SaveCostTracking(ctx, tracking); err != nil {
		return err
	}
	return s.propagateCost(ctx, productID, res.UnitCostCents)
}

// RecalculateCostFromHistory rebuilds the average from the full purchase
// history, discarding whatever the incremental tracking has accumulated.
func (s *Service) RecalculateCostFromHistory(ctx context.Context, productID string) (*domain.ProductCostTracking, error) {
	lines, err := s.ledger.ListPurchaseHistory(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("load purchase history: %w", err)
	}
	rep := costing.ReplayHistory(lines)
	if !rep.HasHistory {
		// Nothing to derive a cost from: drop the tracking record and zero
		// the stored cost instead of leaving stale numbers behind.
		if err := s.ledger.DeleteCostTracking(ctx, productID); err != nil {
			return nil, fmt.Errorf("delete cost tracking: %w", err)
		}
		if err := s.propagateCost(ctx, productID, 0); err != nil {
			return nil, err
		}
		return &domain.ProductCostTracking{ProductID: productID}, nil
	}
	tracking := &domain.ProductCostTracking{
		ProductID:              productID,
		AvgCostCents:           rep.AvgCostCents,
		TotalQtyPurchased:      rep.PurchasedQty,
		TotalCostCents:         rep.CostAccumCents,
		LastPurchasePriceCents: rep.LastPurchasePriceCents,
		LastPurchaseAt:         rep.LastPurchaseAt,
		HasPurchaseHistory:     true,
	}
	if err := s.ledger.SaveCostTracking(ctx, tracking); err != nil {
		return nil, err
	}
	if err := s.propagateCost(ctx, productID, rep.AvgCostCents); err != nil {
		return nil, err
	}
	return tracking, nil
}

func (s *Service) propagateCost(ctx context.Context, productID string, costCents int64) error {
	if err := s.ledger.SetProductCost(ctx, productID, costCents); err != nil {
		return fmt.Errorf("update ledger product cost: %w", err)
	}
	if err := s.local.SetProductCost(ctx, productID, costCents); err != nil && !errors.Is(err, localstore.ErrNotFound) {
		s.log.Warn().Err(err).Str("product", productID).Msg("local cost update failed")
	}
	return nil
}

// RefreshSnapshot pulls the catalog, payment methods, and branch inventory
// into the local store so sales keep working offline. The product list goes
// through the shared cache when one is configured.
func (s *Service) RefreshSnapshot(ctx context.Context) error {
	products, ok := s.snapshots.GetProducts(ctx)
	if !ok {
		var err error
		products, err = s.ledger.ListProducts(ctx)
		if err != nil {
			return fmt.Errorf("list products: %w", err)
		}
		s.snapshots.SetProducts(ctx, products, s.snapshotTTL)
	}
	if err := s.local.UpsertProducts(ctx, products); err != nil {
		return fmt.Errorf("cache products: %w", err)
	}

	methods, err := s.ledger.ListPaymentMethods(ctx)
	if err != nil {
		return fmt.Errorf("list payment methods: %w", err)
	}
	if err := s.local.UpsertPaymentMethods(ctx, methods); err != nil {
		return fmt.Errorf("cache payment methods: %w", err)
	}

	inventory, err := s.ledger.ListInventory(ctx, s.branchID)
	if err != nil {
		return fmt.Errorf("list inventory: %w", err)
	}
	if err := s.local.UpsertInventory(ctx, inventory); err != nil {
		return fmt.Errorf("cache inventory: %w", err)
	}
	if err := s.local.SetMeta(ctx, "last_snapshot_at", s.clock.Now().Format(time.RFC3339)); err != nil {
		s.log.Warn().Err(err).Msg("record snapshot time failed")
	}
	s.log.Info().Int("products", len(products)).Int("payment_methods", len(methods)).
		Int("inventory", len(inventory)).Msg("snapshot refreshed")
	return nil
}

// QueueStats reports how many sales sit in each sync state.
func (s *Service) QueueStats(ctx context.Context) (domain.QueueStats, error) {
	return s.local.CountByStatus(ctx)
}

// SyncLog returns the audit trail for one queued sale, or all entries when
// localID is empty.
func (s *Service) SyncLog(ctx context.Context, localID string) ([]domain.SyncLogEntry, error) {
	return s.local.ListSyncLog(ctx, localID)
}

// Online reports current ledger reachability.
func (s *Service) Online(ctx context.Context) bool {
	return s.probe.Online(ctx)
}
