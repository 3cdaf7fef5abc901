// Package syncer drains the offline sale queue into the remote ledger.
package syncer

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"dukanpos/terminal/internal/domain"
	"dukanpos/terminal/internal/localstore"
	"dukanpos/terminal/internal/netcheck"
)

// Committer replays one queued sale against the ledger. Implementations must
// be idempotent: calling it again for the same sale returns the invoice that
// already exists.
type Committer interface {
	CommitPendingSale(ctx context.Context, sale *domain.PendingSale) (string, error)
}

// Report summarizes one sync pass.
type Report struct {
	Attempted int
	Succeeded int
	Failed    int
}

type Manager struct {
	store      localstore.Store
	committer  Committer
	probe      netcheck.Prober
	log        zerolog.Logger
	interval   time.Duration
	maxRetries int

	// OnComplete, when set, runs after every pass that attempted at least
	// one sale. The daemon uses it to refresh queue gauges.
	OnComplete func(Report)

	// PartialIs reports whether an error means the invoice committed but a
	// side effect failed; such sales are marked synced, not retried.
	PartialIs func(error) bool
}

func New(store localstore.Store, committer Committer, probe netcheck.Prober, log zerolog.Logger, interval time.Duration, maxRetries int) *Manager {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Manager{
		store:      store,
		committer:  committer,
		probe:      probe,
		log:        log,
		interval:   interval,
		maxRetries: maxRetries,
	}
}

// Run drives periodic sync passes until the context is canceled. One pass
// runs immediately so a terminal that restarts with a full queue drains it
// without waiting a full interval.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		if report, err := m.SyncPending(ctx); err != nil {
			m.log.Warn().Err(err).Msg("sync pass aborted")
		} else if report.Attempted > 0 {
			m.log.Info().Int("attempted", report.Attempted).
				Int("succeeded", report.Succeeded).Int("failed", report.Failed).
				Msg("sync pass finished")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// SyncPending replays queued sales oldest-first. A transient failure stops
// the pass after marking the failed sale: the connection is gone and the
// remaining sales would only burn retries.
func (m *Manager) SyncPending(ctx context.Context) (Report, error) {
	var report Report
	if !m.probe.Online(ctx) {
		return report, nil
	}
	sales, err := m.store.ListUnsynced(ctx, m.maxRetries)
	if err != nil {
		return report, err
	}
	if len(sales) == 0 {
		return report, nil
	}

	for i := range sales {
		sale := &sales[i]
		report.Attempted++

		if err := m.store.MarkSyncing(ctx, sale.LocalID); err != nil {
			m.log.Error().Err(err).Str("sale", sale.LocalID).Msg("mark syncing failed")
			report.Failed++
			continue
		}
		if sale.RetryCount > 0 {
			m.appendLog(ctx, sale.LocalID, domain.SyncActionRetry, "", "")
		}

		invoiceNumber, commitErr := m.committer.CommitPendingSale(ctx, sale)
		switch {
		case commitErr == nil:
			m.finishSale(ctx, sale, invoiceNumber, "")
			report.Succeeded++
		case m.PartialIs != nil && m.PartialIs(commitErr) && invoiceNumber != "":
			// The invoice exists; retrying would double nothing but also
			// fix nothing. Record it and surface the error in the log.
			m.finishSale(ctx, sale, invoiceNumber, commitErr.Error())
			report.Succeeded++
		default:
			if err := m.store.MarkFailed(ctx, sale.LocalID, commitErr.Error()); err != nil {
				m.log.Error().Err(err).Str("sale", sale.LocalID).Msg("mark failed failed")
			}
			m.appendLog(ctx, sale.LocalID, domain.SyncActionFailed, "", commitErr.Error())
			report.Failed++
			if netcheck.IsTransient(commitErr) {
				m.log.Warn().Err(commitErr).Msg("connection lost mid-pass, stopping")
				if m.OnComplete != nil {
					m.OnComplete(report)
				}
				return report, nil
			}
			m.log.Error().Err(commitErr).Str("sale", sale.LocalID).
				Int("retries", sale.RetryCount+1).Msg("sale sync failed")
		}
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
	}
	if m.OnComplete != nil {
		m.OnComplete(report)
	}
	return report, nil
}

func (m *Manager) finishSale(ctx context.Context, sale *domain.PendingSale, invoiceNumber, errDetail string) {
	if err := m.store.MarkSynced(ctx, sale.LocalID, invoiceNumber); err != nil {
		m.log.Error().Err(err).Str("sale", sale.LocalID).Msg("mark synced failed")
		return
	}
	m.appendLog(ctx, sale.LocalID, domain.SyncActionSuccess, invoiceNumber, errDetail)
	m.log.Info().Str("temp_invoice", sale.TempInvoiceNumber).
		Str("invoice", invoiceNumber).Msg("sale synced")
}

func (m *Manager) appendLog(ctx context.Context, saleID, action, detail, errDetail string) {
	err := m.store.AppendSyncLog(ctx, domain.SyncLogEntry{
		PendingSaleID: saleID,
		Action:        action,
		At:            time.Now(),
		Detail:        detail,
		Error:         errDetail,
	})
	if err != nil {
		m.log.Warn().Err(err).Str("sale", saleID).Msg("sync log append failed")
	}
}

// CleanupSynced deletes sales that already reached the ledger. The audit
// trail in the sync log is kept.
func (m *Manager) CleanupSynced(ctx context.Context) (int, error) {
	n, err := m.store.PurgeSynced(ctx)
	if err != nil && !errors.Is(err, localstore.ErrNotFound) {
		return 0, err
	}
	if n > 0 {
		m.log.Info().Int("purged", n).Msg("synced sales purged")
	}
	return n, nil
}
