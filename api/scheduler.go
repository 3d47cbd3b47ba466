/*
scheduler.go - Automated invoice control scheduler

PURPOSE:
  Periodically picks up invoices still in status "received" and runs the
  three-way control on them, so that nothing waits for someone to press
  the control button.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Only invoices that reference a purchase order are controlled
  - A failing invoice is logged and skipped; the next tick retries it
  - Controlled invoices leave status "received", so each one is
    processed once

CONFIGURATION:
  - CheckInterval: How often to check (INVOICE_CONTROL_SCHEDULER_INTERVAL)
  - Enabled: Whether scheduler is active (INVOICE_CONTROL_SCHEDULER_ENABLED)

USAGE:
  scheduler := NewAutoControlScheduler(store, controller, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: ControlInvoice endpoint (manual control)
  - reconcile/service.go: Controller
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/warp/invoice-control/reconcile"
)

// AutoControlScheduler controls received invoices in the background.
type AutoControlScheduler struct {
	Store         reconcile.DocumentStore
	Controller    *reconcile.Controller
	CheckInterval time.Duration
	Enabled       bool

	logger zerolog.Logger
	ticker *time.Ticker
	stop   chan bool
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// RunSummary counts the outcome of one pass.
type RunSummary struct {
	Controlled  int
	Discrepancy int
	Skipped     int
	Failed      int
}

// NewAutoControlScheduler creates a new scheduler.
func NewAutoControlScheduler(store reconcile.DocumentStore, controller *reconcile.Controller, logger zerolog.Logger) *AutoControlScheduler {
	return &AutoControlScheduler{
		Store:         store,
		Controller:    controller,
		CheckInterval: time.Minute,
		Enabled:       true,
		logger:        logger.With().Str("component", "scheduler").Logger(),
	}
}

// Start begins the scheduler.
func (s *AutoControlScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		s.logger.Info().Msg("Disabled, not starting")
		return
	}
	if s.ticker != nil {
		return
	}

	s.ticker = time.NewTicker(s.CheckInterval)
	s.stop = make(chan bool)
	s.wg.Add(1)

	go s.run(s.ticker, s.stop)

	s.logger.Info().Dur("interval", s.CheckInterval).Msg("Started")
}

// Stop stops the scheduler.
func (s *AutoControlScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker != nil {
		s.ticker.Stop()
		close(s.stop)
		s.wg.Wait()
		s.ticker = nil
		s.logger.Info().Msg("Stopped")
	}
}

func (s *AutoControlScheduler) run(ticker *time.Ticker, stop <-chan bool) {
	defer s.wg.Done()

	// Run immediately on start
	s.tick(stop)

	for {
		select {
		case <-ticker.C:
			s.tick(stop)
		case <-stop:
			return
		}
	}
}

func (s *AutoControlScheduler) tick(stop <-chan bool) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Abandon the pass on Stop.
	go func() {
		select {
		case <-stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	if _, err := s.RunOnce(ctx); err != nil {
		s.logger.Error().Err(err).Msg("Control pass failed")
	}
}

// RunOnce controls every received invoice that references a purchase order.
func (s *AutoControlScheduler) RunOnce(ctx context.Context) (RunSummary, error) {
	var sum RunSummary

	invoices, err := s.Store.ListInvoices(ctx, reconcile.InvoiceReceived)
	if err != nil {
		return sum, err
	}

	for _, inv := range invoices {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		if inv.OrderID == "" {
			sum.Skipped++
			continue
		}

		rec, err := s.Controller.ControlInvoice(ctx, inv.ID)
		if err != nil {
			sum.Failed++
			s.logger.Warn().Err(err).Str("invoice_id", inv.ID).Msg("Control failed")
			continue
		}
		if rec.Result.Status == reconcile.InvoiceDiscrepancyDetected {
			sum.Discrepancy++
		} else {
			sum.Controlled++
		}
	}

	if len(invoices) > 0 {
		s.logger.Info().
			Int("controlled", sum.Controlled).
			Int("discrepancy", sum.Discrepancy).
			Int("skipped", sum.Skipped).
			Int("failed", sum.Failed).
			Msg("Control pass completed")
	}
	return sum, nil
}
