package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"pehlione.com/settlement/internal/modules/orders"
	"pehlione.com/settlement/internal/modules/products"
	"pehlione.com/settlement/internal/shared/dbx"
)

// OrderStore is the slice of the orders repo the engine needs.
type OrderStore interface {
	IsStockDeducted(ctx context.Context, orderID string) (bool, error)
	Items(ctx context.Context, orderID string) ([]orders.OrderItem, error)
	ClaimStock(ctx context.Context, orderID, token string, lease time.Duration) (bool, error)
	ReleaseClaim(ctx context.Context, orderID, token string) error
	CommitStock(ctx context.Context, orderID string) error
	ReleaseStock(ctx context.Context, orderID string) (bool, error)
}

// StockStore reads and compare-and-swaps product/variant counters.
type StockStore interface {
	ReadStock(ctx context.Context, ref products.StockRef) (int, error)
	SwapStock(ctx context.Context, ref products.StockRef, prev, next int, reactivate bool) (bool, error)
}

type EngineConfig struct {
	ClaimLease   time.Duration
	CASAttempts  int
	SystemUserID string
	// OpTimeout bounds each persistence call, not a whole run.
	OpTimeout time.Duration
}

func (c EngineConfig) withDefaults() EngineConfig {
	if c.ClaimLease <= 0 {
		c.ClaimLease = 2 * time.Minute
	}
	if c.CASAttempts <= 0 {
		c.CASAttempts = 5
	}
	if c.SystemUserID == "" {
		c.SystemUserID = "system"
	}
	if c.OpTimeout <= 0 {
		c.OpTimeout = 5 * time.Second
	}
	return c
}

// Engine commits and restores the inventory of an order exactly once per cycle.
//
// The persistence layer offers single-statement atomicity only. Commitment is
// guarded by the one-way stock_deducted flag, a claim lease taken with one
// conditional UPDATE, and a per-counter compare-and-swap.
type Engine struct {
	orders OrderStore
	stock  StockStore
	ledger Ledger
	cfg    EngineConfig
	logger *slog.Logger
}

func NewEngine(o OrderStore, s StockStore, l Ledger, cfg EngineConfig) *Engine {
	return &Engine{orders: o, stock: s, ledger: l, cfg: cfg.withDefaults(), logger: slog.Default()}
}

func (e *Engine) SetLogger(logger *slog.Logger) {
	e.logger = logger
}

func (e *Engine) op(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.cfg.OpTimeout)
}

type ItemResult struct {
	OrderItemID string
	Ref         string
	OldStock    int
	NewStock    int
	Change      int
}

type SkippedItem struct {
	OrderItemID string
	Ref         string
	Quantity    int
	Reason      string
}

// Report describes one Deduct or Restore run. Skipped items are the input of the
// reconciliation alert; they never fail the run.
type Report struct {
	OrderID   string
	PaymentID string

	AlreadyCommitted bool // flag was true on entry
	ClaimHeld        bool // another execution owns the commitment
	Interrupted      bool // flag turned true mid-run
	NoItems          bool
	Committed        bool // this run set the flag

	Adjusted       []ItemResult
	AlreadyApplied []string // order item ids whose ledger entry already existed
	Skipped        []SkippedItem
}

func (r Report) HasSkipped() bool { return len(r.Skipped) > 0 }

// Deduct decrements every line item of orderID by its quantity, once.
// Only order-level failures are returned; per-item failures land in Report.Skipped.
func (e *Engine) Deduct(ctx context.Context, orderID, paymentID string) (Report, error) {
	rep := Report{OrderID: orderID, PaymentID: paymentID}

	deducted, err := e.isDeducted(ctx, orderID)
	if err != nil {
		return rep, fmt.Errorf("read stock flag: %w", err)
	}
	if deducted {
		rep.AlreadyCommitted = true
		return rep, nil
	}

	items, err := e.items(ctx, orderID)
	if err != nil {
		return rep, fmt.Errorf("load order items: %w", err)
	}
	if len(items) == 0 {
		e.logger.WarnContext(ctx, "order has no line items, nothing to deduct", "order_id", orderID, "payment_id", paymentID)
		rep.NoItems = true
		return rep, nil
	}

	token := uuid.NewString()
	cctx, cancel := e.op(ctx)
	claimed, err := e.orders.ClaimStock(cctx, orderID, token, e.cfg.ClaimLease)
	cancel()
	if err != nil {
		return rep, fmt.Errorf("claim stock: %w", err)
	}
	if !claimed {
		e.logger.InfoContext(ctx, "stock commitment owned by a concurrent execution", "order_id", orderID, "payment_id", paymentID)
		rep.ClaimHeld = true
		return rep, nil
	}

	// Any exit without a commit hands the claim back so a redelivery can resume.
	defer func() {
		if rep.Committed {
			return
		}
		rctx, cancel := e.op(context.WithoutCancel(ctx))
		defer cancel()
		if err := e.orders.ReleaseClaim(rctx, orderID, token); err != nil {
			e.logger.WarnContext(ctx, "stock claim release failed, waiting for lease expiry",
				"order_id", orderID, "payment_id", paymentID, "err", err)
		}
	}()

	reason := fmt.Sprintf("payment settlement: order %s payment %s", orderID, paymentID)
	for _, it := range items {
		deducted, err := e.isDeducted(ctx, orderID)
		if err == nil && deducted {
			e.logger.InfoContext(ctx, "stock committed concurrently, stopping", "order_id", orderID, "payment_id", paymentID)
			rep.Interrupted = true
			return rep, nil
		}
		if err != nil {
			e.logger.WarnContext(ctx, "stock flag re-read failed", "order_id", orderID, "err", err)
		}

		key := DedupeKey(KindDeduct, it.ID, paymentID)
		res, applied, err := e.adjust(ctx, it, -it.Quantity, false, key, reason)
		switch {
		case err != nil:
			e.logger.ErrorContext(ctx, "stock adjustment failed, continuing",
				"order_id", orderID, "payment_id", paymentID, "order_item_id", it.ID, "err", err)
			rep.Skipped = append(rep.Skipped, SkippedItem{
				OrderItemID: it.ID,
				Ref:         refOf(it).String(),
				Quantity:    it.Quantity,
				Reason:      err.Error(),
			})
		case applied:
			rep.AlreadyApplied = append(rep.AlreadyApplied, it.ID)
		default:
			rep.Adjusted = append(rep.Adjusted, res)
		}
	}

	// Set even when items were skipped; the skipped list goes to reconciliation.
	cctx, cancel = e.op(ctx)
	err = e.orders.CommitStock(cctx, orderID)
	cancel()
	if err != nil {
		return rep, fmt.Errorf("commit stock flag: %w", err)
	}
	rep.Committed = true

	e.logger.InfoContext(ctx, "stock committed",
		"order_id", orderID, "payment_id", paymentID,
		"adjusted", len(rep.Adjusted), "already_applied", len(rep.AlreadyApplied), "skipped", len(rep.Skipped))
	return rep, nil
}

// Restore is the reverse contract used by cancellation. The caller that flips
// stock_deducted true->false is the only one that increments the counters.
func (e *Engine) Restore(ctx context.Context, orderID, reason string) (bool, error) {
	rctx, cancel := e.op(ctx)
	released, err := e.orders.ReleaseStock(rctx, orderID)
	cancel()
	if err != nil {
		return false, fmt.Errorf("release stock flag: %w", err)
	}
	if !released {
		return false, nil
	}

	items, err := e.items(ctx, orderID)
	if err != nil {
		return true, fmt.Errorf("load order items: %w", err)
	}

	cycle := uuid.NewString()
	for _, it := range items {
		key := DedupeKey(KindRestore, it.ID, cycle)
		if _, _, err := e.adjust(ctx, it, it.Quantity, true, key, "restock: "+reason); err != nil {
			e.logger.ErrorContext(ctx, "stock restore failed for item, continuing",
				"order_id", orderID, "order_item_id", it.ID, "err", err)
		}
	}
	return true, nil
}

// adjust applies delta to the item's counter with bounded CAS retries and
// appends the ledger entry. applied=true means the ledger already had key.
func (e *Engine) adjust(ctx context.Context, it orders.OrderItem, delta int, reactivate bool, key, reason string) (ItemResult, bool, error) {
	ref := refOf(it)
	if ref.ProductID == "" && ref.VariantID == "" {
		return ItemResult{}, false, ErrInvalidLineItem
	}

	lctx, cancel := e.op(ctx)
	exists, err := e.ledger.Exists(lctx, key)
	cancel()
	if err != nil {
		return ItemResult{}, false, fmt.Errorf("ledger lookup: %w", err)
	}
	if exists {
		return ItemResult{}, true, nil
	}

	var prev, next int
	swapped := false
	for attempt := 0; attempt < e.cfg.CASAttempts && !swapped; attempt++ {
		sctx, cancel := e.op(ctx)
		prev, err = e.stock.ReadStock(sctx, ref)
		cancel()
		if err != nil {
			if dbx.IsRetryable(err) {
				continue
			}
			return ItemResult{}, false, fmt.Errorf("read stock %s: %w", ref, err)
		}
		next = prev + delta
		if next < 0 {
			next = 0
		}
		sctx, cancel = e.op(ctx)
		swapped, err = e.stock.SwapStock(sctx, ref, prev, next, reactivate)
		cancel()
		if err != nil && !dbx.IsRetryable(err) {
			return ItemResult{}, false, fmt.Errorf("write stock %s: %w", ref, err)
		}
	}
	if !swapped {
		return ItemResult{}, false, fmt.Errorf("%s: %w", ref, ErrStockContention)
	}

	entry := &StockLog{
		ProductID:   strPtr(ref.ProductID),
		VariantID:   strPtr(ref.VariantID),
		OrderID:     it.OrderID,
		OrderItemID: it.ID,
		OldStock:    prev,
		NewStock:    next,
		Change:      next - prev,
		Reason:      truncate(reason, 255),
		UserID:      e.cfg.SystemUserID,
		DedupeKey:   key,
	}
	actx, cancel := e.op(ctx)
	err = e.ledger.Append(actx, entry)
	cancel()
	if err != nil {
		if dbx.IsDuplicateKey(err) {
			return ItemResult{}, false, fmt.Errorf("stock log %s written by a concurrent attempt: %w", key, err)
		}
		return ItemResult{}, false, fmt.Errorf("append stock log: %w", err)
	}

	return ItemResult{
		OrderItemID: it.ID,
		Ref:         ref.String(),
		OldStock:    prev,
		NewStock:    next,
		Change:      next - prev,
	}, false, nil
}

func (e *Engine) isDeducted(ctx context.Context, orderID string) (bool, error) {
	ctx, cancel := e.op(ctx)
	defer cancel()
	return e.orders.IsStockDeducted(ctx, orderID)
}

func (e *Engine) items(ctx context.Context, orderID string) ([]orders.OrderItem, error) {
	ctx, cancel := e.op(ctx)
	defer cancel()
	return e.orders.Items(ctx, orderID)
}

func refOf(it orders.OrderItem) products.StockRef {
	var ref products.StockRef
	if it.VariantID != nil {
		ref.VariantID = *it.VariantID
	}
	if it.ProductID != nil {
		ref.ProductID = *it.ProductID
	}
	return ref
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	return s[:n]
}

// IsOrderMissing reports an engine failure caused by an unknown order.
func IsOrderMissing(err error) bool {
	return errors.Is(err, orders.ErrOrderNotFound)
}
