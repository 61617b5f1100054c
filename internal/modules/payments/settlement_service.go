package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/datatypes"

	"pehlione.com/settlement/internal/modules/inventory"
	"pehlione.com/settlement/internal/modules/orders"
	"pehlione.com/settlement/internal/shared/dbx"
)

// OrderStore is what settlement needs from the orders repo.
type OrderStore interface {
	Get(ctx context.Context, id string) (orders.Order, error)
	FindByPreferenceID(ctx context.Context, preferenceID string) (orders.Order, error)
	ApplyPayment(ctx context.Context, in orders.ApplyPaymentInput) error
}

type RecordStore interface {
	Insert(ctx context.Context, rec *PaymentRecord) error
	FindByPaymentID(ctx context.Context, paymentID string) (PaymentRecord, error)
	FindCorrelated(ctx context.Context, externalRef, excludePaymentID string) (PaymentRecord, error)
	MarkApplied(ctx context.Context, paymentID string) error
}

type StockEngine interface {
	Deduct(ctx context.Context, orderID, paymentID string) (inventory.Report, error)
}

// StockLedger answers whether an order still holds committed inventory.
type StockLedger interface {
	Outstanding(ctx context.Context, orderID string) (bool, error)
}

// SettlementEvent is published after every acknowledged settlement.
type SettlementEvent struct {
	PaymentID        string    `json:"payment_id"`
	OrderID          string    `json:"order_id,omitempty"`
	ProviderStatus   string    `json:"provider_status"`
	OrderStatus      string    `json:"order_status,omitempty"`
	AlreadyProcessed bool      `json:"already_processed"`
	StockCommitted   bool      `json:"stock_committed"`
	SkippedItems     int       `json:"skipped_items"`
	RequestID        string    `json:"request_id,omitempty"`
	OccurredAt       time.Time `json:"occurred_at"`
}

type EventPublisher interface {
	Publish(ctx context.Context, ev SettlementEvent) error
}

// Alerter is told about stock reports with skipped line items.
type Alerter interface {
	StockSkipped(ctx context.Context, rep inventory.Report) error
}

type SettlementConfig struct {
	ProviderTimeout time.Duration
	DBOpTimeout     time.Duration
}

// SettlementService turns one notification into an order status and a stock
// commitment. Process is safe for concurrent use and never panics.
type SettlementService struct {
	gate     *Gate
	provider Provider
	records  RecordStore
	orders   OrderStore
	engine   StockEngine
	ledger   StockLedger
	cfg      SettlementConfig

	events  EventPublisher
	alerter Alerter
	logger  *slog.Logger
}

func NewSettlementService(gate *Gate, p Provider, records RecordStore, o OrderStore, engine StockEngine, ledger StockLedger, cfg SettlementConfig) *SettlementService {
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = 10 * time.Second
	}
	if cfg.DBOpTimeout <= 0 {
		cfg.DBOpTimeout = 5 * time.Second
	}
	return &SettlementService{
		gate:     gate,
		provider: p,
		records:  records,
		orders:   o,
		engine:   engine,
		ledger:   ledger,
		cfg:      cfg,
		logger:   slog.Default(),
	}
}

func (s *SettlementService) SetLogger(logger *slog.Logger) {
	s.logger = logger
}

func (s *SettlementService) SetEventPublisher(p EventPublisher) { s.events = p }

func (s *SettlementService) SetAlerter(a Alerter) { s.alerter = a }

// settlement carries one Process invocation through its steps.
type settlement struct {
	n          Notification
	payment    ProviderPayment
	resolution Resolution
	order      *orders.Order
	stock      *inventory.Report
	duplicate  bool
	applied    bool // order update landed in an earlier execution
}

func (st *settlement) logAttrs() []any {
	attrs := []any{"payment_id", st.n.PaymentID, "request_id", st.n.RequestID}
	if st.order != nil {
		attrs = append(attrs, "order_id", st.order.ID)
	}
	return attrs
}

// Process settles one notification. Every outcome, panics included, is turned
// into a Result.
func (s *SettlementService) Process(ctx context.Context, n Notification) (res Result) {
	st := &settlement{n: n}
	entered := false
	defer func() {
		if r := recover(); r != nil {
			s.logger.ErrorContext(ctx, "settlement panicked", append(st.logAttrs(), "panic", fmt.Sprint(r))...)
			res = Result{Success: false, Error: fmt.Sprintf("internal error: %v", r)}
		}
		if entered && !res.Success {
			s.gate.Leave(context.WithoutCancel(ctx), n.PaymentID)
		}
	}()

	if err := n.Validate(); err != nil {
		s.logger.WarnContext(ctx, "settlement rejected invalid notification", append(st.logAttrs(), "err", err)...)
		return Result{Success: false, Error: err.Error()}
	}

	if !s.gate.Enter(ctx, n.PaymentID) {
		s.logger.InfoContext(ctx, "settlement already in progress", st.logAttrs()...)
		return Result{Success: true, AlreadyProcessed: true}
	}
	entered = true

	if err := s.settle(ctx, st); err != nil {
		s.logger.ErrorContext(ctx, "settlement failed", append(st.logAttrs(), "err", err)...)
		return Result{Success: false, Status: st.payment.Status, Error: err.Error()}
	}

	s.publish(ctx, st)
	return Result{Success: true, Status: st.payment.Status, AlreadyProcessed: st.duplicate}
}

func (s *SettlementService) settle(ctx context.Context, st *settlement) error {
	pctx, cancel := context.WithTimeout(ctx, s.cfg.ProviderTimeout)
	pay, err := s.provider.GetPayment(pctx, st.n.PaymentID)
	cancel()
	if err != nil {
		return fmt.Errorf("fetch payment: %w", err)
	}
	st.payment = pay
	st.resolution = Resolve(pay.Status)

	rec := s.newRecord(st)
	dctx, cancel := context.WithTimeout(ctx, s.cfg.DBOpTimeout)
	err = s.records.Insert(dctx, &rec)
	cancel()
	switch {
	case err == nil:
	case dbx.IsDuplicateKey(err):
		st.duplicate = true
		if err := s.loadPrior(ctx, st); err != nil {
			return err
		}
		s.logger.InfoContext(ctx, "payment already recorded",
			append(st.logAttrs(), "status", pay.Status, "order_applied", st.applied)...)
	default:
		return fmt.Errorf("persist payment record: %w", err)
	}

	if st.applied {
		// only an unfinished stock commitment is resumed
		if !st.resolution.SecuresStock {
			return nil
		}
		found, err := s.correlate(ctx, st)
		if err != nil || !found {
			return err
		}
		return s.commitStock(ctx, st)
	}

	if !st.resolution.Transition() {
		s.logger.InfoContext(ctx, "payment status needs no order transition", append(st.logAttrs(), "status", pay.Status)...)
		return nil
	}

	found, err := s.correlate(ctx, st)
	if err != nil {
		return err
	}
	if !found {
		s.logger.WarnContext(ctx, "no order correlates with payment",
			append(st.logAttrs(), "preference_id", pay.PreferenceID, "external_reference", pay.ExternalReference)...)
		return nil
	}

	if err := s.updateOrder(ctx, st); err != nil {
		return err
	}
	if err := s.markApplied(ctx, st); err != nil {
		return err
	}

	if st.resolution.SecuresStock {
		return s.commitStock(ctx, st)
	}
	return nil
}

func (s *SettlementService) loadPrior(ctx context.Context, st *settlement) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.DBOpTimeout)
	defer cancel()

	prior, err := s.records.FindByPaymentID(ctx, st.n.PaymentID)
	if err != nil {
		return fmt.Errorf("load payment record: %w", err)
	}
	st.applied = prior.AppliedAt != nil
	return nil
}

func (s *SettlementService) markApplied(ctx context.Context, st *settlement) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.DBOpTimeout)
	defer cancel()

	if err := s.records.MarkApplied(ctx, st.n.PaymentID); err != nil {
		return fmt.Errorf("mark payment applied: %w", err)
	}
	return nil
}

func (s *SettlementService) newRecord(st *settlement) PaymentRecord {
	pay := st.payment
	rec := PaymentRecord{
		PaymentID:            st.n.PaymentID,
		PreferenceID:         nonEmpty(pay.PreferenceID),
		Status:               pay.NormalizedStatus(),
		Amount:               pay.TransactionAmount,
		CurrencyID:           pay.CurrencyID,
		ExternalReference:    nonEmpty(pay.ExternalReference),
		HMACValidationResult: ValidationSkipped,
		HMACFallbackUsed:     st.n.RequiresManualVerification,
		WebhookRequestID:     nonEmpty(st.n.RequestID),
	}
	if len(pay.Raw) > 0 {
		rec.RawData = datatypes.JSON(pay.Raw)
	}
	if a := st.n.AuditContext; a != nil {
		if a.ValidationResult != "" {
			rec.HMACValidationResult = a.ValidationResult
		}
		rec.HMACFailureReason = nonEmpty(truncate(a.FailureReason, 255))
		rec.HMACFallbackUsed = rec.HMACFallbackUsed || a.FallbackUsed
		if a.SourceRequestID != "" {
			rec.WebhookRequestID = &a.SourceRequestID
		}
	}
	return rec
}

// correlate finds the order by preference id, then through the external
// reference: a sibling record's preference id, then an order with that id.
func (s *SettlementService) correlate(ctx context.Context, st *settlement) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.DBOpTimeout)
	defer cancel()

	pay := st.payment
	if pay.PreferenceID != "" {
		o, err := s.orders.FindByPreferenceID(ctx, pay.PreferenceID)
		if err == nil {
			st.order = &o
			return true, nil
		}
		if !orders.IsNotFound(err) {
			return false, fmt.Errorf("find order by preference: %w", err)
		}
	}

	ref := pay.ExternalReference
	if ref == "" {
		return false, nil
	}

	sibling, err := s.records.FindCorrelated(ctx, ref, st.n.PaymentID)
	switch {
	case err == nil && sibling.PreferenceID != nil:
		o, err := s.orders.FindByPreferenceID(ctx, *sibling.PreferenceID)
		if err == nil {
			st.order = &o
			return true, nil
		}
		if !orders.IsNotFound(err) {
			return false, fmt.Errorf("find order by sibling preference: %w", err)
		}
	case err != nil && !errors.Is(err, ErrRecordNotFound):
		return false, fmt.Errorf("find correlated payment: %w", err)
	}

	o, err := s.orders.Get(ctx, ref)
	if err == nil {
		st.order = &o
		return true, nil
	}
	if orders.IsNotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("find order by external reference: %w", err)
}

func (s *SettlementService) updateOrder(ctx context.Context, st *settlement) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.DBOpTimeout)
	defer cancel()

	o := st.order
	in := orders.ApplyPaymentInput{
		OrderID:   o.ID,
		PaymentID: st.n.PaymentID,
		Status:    st.resolution.OrderStatus,
	}

	// A new payment cycle starts only when the previous one holds no inventory.
	if o.PaymentID != nil && *o.PaymentID != st.n.PaymentID && o.StockDeducted {
		outstanding, err := s.ledger.Outstanding(ctx, o.ID)
		if err != nil {
			return fmt.Errorf("check outstanding stock: %w", err)
		}
		if !outstanding {
			in.ResetStock = true
			in.PreviousPaymentID = *o.PaymentID
		}
	}

	err := s.orders.ApplyPayment(ctx, in)
	if errors.Is(err, orders.ErrStaleWrite) {
		s.logger.InfoContext(ctx, "order payment changed concurrently, writing without stock reset", st.logAttrs()...)
		in.ResetStock = false
		err = s.orders.ApplyPayment(ctx, in)
	}
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}

	s.logger.InfoContext(ctx, "order status updated",
		append(st.logAttrs(), "from", o.Status, "to", in.Status, "stock_reset", in.ResetStock)...)
	o.Status = in.Status
	return nil
}

// commitStock runs the engine. Its persistence calls carry their own timeouts,
// so the run as a whole is bounded only by ctx.
func (s *SettlementService) commitStock(ctx context.Context, st *settlement) error {
	rep, err := s.engine.Deduct(ctx, st.order.ID, st.n.PaymentID)
	if inventory.IsOrderMissing(err) {
		// acknowledged; stock for a vanished order is left to reconciliation
		s.logger.ErrorContext(ctx, "stock commitment skipped, order missing", append(st.logAttrs(), "err", err)...)
		return nil
	}
	if err != nil {
		return fmt.Errorf("commit stock: %w", err)
	}
	st.stock = &rep
	if rep.ClaimHeld {
		// the owner may be dead; acknowledging would drop the last redelivery
		return ErrStockClaimHeld
	}

	if rep.HasSkipped() && s.alerter != nil {
		if err := s.alerter.StockSkipped(context.WithoutCancel(ctx), rep); err != nil {
			s.logger.ErrorContext(ctx, "stock alert failed", append(st.logAttrs(), "err", err)...)
		}
	}
	return nil
}

func (s *SettlementService) publish(ctx context.Context, st *settlement) {
	if s.events == nil {
		return
	}
	ev := SettlementEvent{
		PaymentID:        st.n.PaymentID,
		ProviderStatus:   st.payment.NormalizedStatus(),
		OrderStatus:      st.resolution.OrderStatus,
		AlreadyProcessed: st.duplicate,
		RequestID:        st.n.RequestID,
		OccurredAt:       time.Now().UTC(),
	}
	if st.order != nil {
		ev.OrderID = st.order.ID
	}
	if st.stock != nil {
		ev.StockCommitted = st.stock.Committed || st.stock.AlreadyCommitted
		ev.SkippedItems = len(st.stock.Skipped)
	}
	if err := s.events.Publish(ctx, ev); err != nil {
		s.logger.WarnContext(ctx, "settlement event publish failed", append(st.logAttrs(), "err", err)...)
	}
}

func nonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
