package payments_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"pehlione.com/settlement/internal/modules/inventory"
	"pehlione.com/settlement/internal/modules/orders"
	"pehlione.com/settlement/internal/modules/payments"
	"pehlione.com/settlement/internal/modules/products"
	"pehlione.com/settlement/internal/shared/dbtest"
)

type fakeProvider struct {
	mu       sync.Mutex
	payments map[string]payments.ProviderPayment
	err      error
	block    bool
	panics   bool
	calls    atomic.Int32
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{payments: map[string]payments.ProviderPayment{}}
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) set(pay payments.ProviderPayment) {
	p.mu.Lock()
	p.payments[pay.ID.String()] = pay
	p.mu.Unlock()
}

func (p *fakeProvider) GetPayment(ctx context.Context, id string) (payments.ProviderPayment, error) {
	p.calls.Add(1)
	p.mu.Lock()
	pay, ok := p.payments[id]
	err, block, panics := p.err, p.block, p.panics
	p.mu.Unlock()

	if panics {
		panic("provider exploded")
	}
	if block {
		<-ctx.Done()
		return payments.ProviderPayment{}, ctx.Err()
	}
	if err != nil {
		return payments.ProviderPayment{}, err
	}
	if !ok {
		return payments.ProviderPayment{}, payments.ErrPaymentNotFound
	}
	return pay, nil
}

type recordingAlerter struct {
	mu      sync.Mutex
	reports []inventory.Report
}

func (a *recordingAlerter) StockSkipped(_ context.Context, rep inventory.Report) error {
	a.mu.Lock()
	a.reports = append(a.reports, rep)
	a.mu.Unlock()
	return nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []payments.SettlementEvent
}

func (p *recordingPublisher) Publish(_ context.Context, ev payments.SettlementEvent) error {
	p.mu.Lock()
	p.events = append(p.events, ev)
	p.mu.Unlock()
	return nil
}

type env struct {
	db       *gorm.DB
	orders   *orders.Repo
	products *products.Repo
	records  *payments.Repo
	ledger   *inventory.GormLedger
	engine   *inventory.Engine
	provider *fakeProvider
}

func newEnv(t *testing.T) *env {
	t.Helper()
	db := dbtest.Open(t,
		&orders.Order{}, &orders.OrderItem{},
		&products.Product{}, &products.Variant{},
		&inventory.StockLog{}, &payments.PaymentRecord{},
	)
	e := &env{
		db:       db,
		orders:   orders.NewRepo(db),
		products: products.NewRepo(db),
		records:  payments.NewRepo(db),
		ledger:   inventory.NewGormLedger(db),
		provider: newFakeProvider(),
	}
	e.engine = inventory.NewEngine(e.orders, e.products, e.ledger, inventory.EngineConfig{})
	return e
}

// service builds a settlement service with its own gate, like a separate replica.
func (e *env) service() *payments.SettlementService {
	gate := payments.NewGate(payments.NewMemoryMarkers(), time.Minute)
	return payments.NewSettlementService(gate, e.provider, e.records, e.orders, e.engine, e.ledger,
		payments.SettlementConfig{ProviderTimeout: time.Second, DBOpTimeout: 5 * time.Second})
}

func (e *env) seedOrder(t *testing.T, preferenceID string, stock, qty int) (orders.Order, products.Product) {
	t.Helper()
	ctx := context.Background()
	p, err := e.products.CreateProduct(ctx, "Mug", "mug-"+uuid.NewString()[:8], decimal.NewFromInt(25), stock)
	require.NoError(t, err)

	now := time.Now()
	o := orders.Order{
		ID:        uuid.NewString(),
		Total:     decimal.NewFromInt(int64(25 * qty)),
		Currency:  "BRL",
		Status:    orders.StatusCreated,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if preferenceID != "" {
		o.PreferenceID = &preferenceID
	}
	require.NoError(t, e.db.Create(&o).Error)
	require.NoError(t, e.db.Create(&orders.OrderItem{
		ID:        uuid.NewString(),
		OrderID:   o.ID,
		ProductID: &p.ID,
		Quantity:  qty,
		UnitPrice: decimal.NewFromInt(25),
		CreatedAt: now,
	}).Error)
	return o, p
}

func (e *env) stock(t *testing.T, productID string) int {
	t.Helper()
	n, err := e.products.ReadStock(context.Background(), products.StockRef{ProductID: productID})
	require.NoError(t, err)
	return n
}

func (e *env) order(t *testing.T, id string) orders.Order {
	t.Helper()
	o, err := e.orders.Get(context.Background(), id)
	require.NoError(t, err)
	return o
}

func approved(id, preferenceID, externalRef string) payments.ProviderPayment {
	return payments.ProviderPayment{
		ID:                payments.ProviderID(id),
		Status:            "approved",
		PreferenceID:      preferenceID,
		ExternalReference: externalRef,
		TransactionAmount: decimal.NewFromInt(50),
		CurrencyID:        "BRL",
		PaymentMethodID:   "pix",
		Raw:               []byte(`{"id":"` + id + `","status":"approved"}`),
	}
}

func notice(paymentID string) payments.Notification {
	return payments.Notification{PaymentID: paymentID, RequestID: "req-" + paymentID}
}

func TestProcess_ApprovedSettlesOnce(t *testing.T) {
	e := newEnv(t)
	o, p := e.seedOrder(t, "pref-1", 10, 2)
	e.provider.set(approved("pay-1", "pref-1", ""))

	pub := &recordingPublisher{}
	svc := e.service()
	svc.SetEventPublisher(pub)

	res := svc.Process(context.Background(), notice("pay-1"))
	assert.Equal(t, payments.Result{Success: true, Status: "approved"}, res)

	got := e.order(t, o.ID)
	assert.Equal(t, orders.StatusPending, got.Status)
	require.NotNil(t, got.PaymentID)
	assert.Equal(t, "pay-1", *got.PaymentID)
	assert.True(t, got.StockDeducted)
	assert.Equal(t, 8, e.stock(t, p.ID))

	// same replica: the local marker answers
	again := svc.Process(context.Background(), notice("pay-1"))
	assert.True(t, again.Success)
	assert.True(t, again.AlreadyProcessed)
	assert.Equal(t, int32(1), e.provider.calls.Load())

	// another replica: the unique index answers
	other := e.service().Process(context.Background(), notice("pay-1"))
	assert.True(t, other.Success)
	assert.True(t, other.AlreadyProcessed)
	assert.Equal(t, 8, e.stock(t, p.ID))

	require.Len(t, pub.events, 1, "the other replica has no publisher")
	assert.Equal(t, o.ID, pub.events[0].OrderID)
	assert.True(t, pub.events[0].StockCommitted)
	assert.False(t, pub.events[0].AlreadyProcessed)
}

func TestProcess_ConcurrentDeliveriesCommitOnce(t *testing.T) {
	e := newEnv(t)
	_, p := e.seedOrder(t, "pref-c", 10, 2)
	e.provider.set(approved("pay-c", "pref-c", ""))

	var wg sync.WaitGroup
	results := make([]payments.Result, 6)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = e.service().Process(context.Background(), notice("pay-c"))
		}(i)
	}
	wg.Wait()

	// a delivery that met a live claim is refused so the provider retries
	refused := 0
	for _, r := range results {
		if !r.Success {
			assert.Contains(t, r.Error, payments.ErrStockClaimHeld.Error())
			refused++
		}
	}
	assert.Less(t, refused, len(results))
	assert.Equal(t, 8, e.stock(t, p.ID))

	var n int64
	require.NoError(t, e.db.Model(&payments.PaymentRecord{}).Where("payment_id = ?", "pay-c").Count(&n).Error)
	assert.Equal(t, int64(1), n)

	for i := 0; i < refused; i++ {
		r := e.service().Process(context.Background(), notice("pay-c"))
		assert.True(t, r.Success, r.Error)
		assert.True(t, r.AlreadyProcessed)
	}
	assert.Equal(t, 8, e.stock(t, p.ID))
}

func TestProcess_ResumesCommitmentAfterCrash(t *testing.T) {
	e := newEnv(t)
	o, p := e.seedOrder(t, "pref-r", 10, 2)
	e.provider.set(approved("pay-r", "pref-r", ""))

	// first execution recorded the payment and died before touching stock
	pref := "pref-r"
	require.NoError(t, e.records.Insert(context.Background(), &payments.PaymentRecord{
		PaymentID:            "pay-r",
		PreferenceID:         &pref,
		Status:               "approved",
		Amount:               decimal.NewFromInt(50),
		CurrencyID:           "BRL",
		HMACValidationResult: payments.ValidationValid,
	}))

	res := e.service().Process(context.Background(), notice("pay-r"))
	assert.True(t, res.Success)
	assert.True(t, res.AlreadyProcessed)
	assert.Equal(t, 8, e.stock(t, p.ID))
	got := e.order(t, o.ID)
	assert.True(t, got.StockDeducted)
	assert.Equal(t, orders.StatusPending, got.Status)

	rec, err := e.records.FindByPaymentID(context.Background(), "pay-r")
	require.NoError(t, err)
	assert.NotNil(t, rec.AppliedAt)
}

func TestProcess_ClaimLeftByCrashedExecutionIsRetried(t *testing.T) {
	e := newEnv(t)
	o, p := e.seedOrder(t, "pref-k", 10, 2)
	e.provider.set(approved("pay-k", "pref-k", ""))
	ctx := context.Background()

	// first execution recorded the payment, claimed the stock and died
	pref := "pref-k"
	require.NoError(t, e.records.Insert(ctx, &payments.PaymentRecord{
		PaymentID:            "pay-k",
		PreferenceID:         &pref,
		Status:               "approved",
		Amount:               decimal.NewFromInt(50),
		CurrencyID:           "BRL",
		HMACValidationResult: payments.ValidationValid,
	}))
	ok, err := e.orders.ClaimStock(ctx, o.ID, "dead-token", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	res := e.service().Process(ctx, notice("pay-k"))
	assert.False(t, res.Success, "a live foreign claim must not be acknowledged")
	assert.Contains(t, res.Error, payments.ErrStockClaimHeld.Error())
	assert.Equal(t, 10, e.stock(t, p.ID))
	assert.False(t, e.order(t, o.ID).StockDeducted)

	// the dead owner's lease runs out
	stale := time.Now().Add(-time.Hour)
	require.NoError(t, e.db.Model(&orders.Order{}).Where("id = ?", o.ID).Update("stock_claimed_at", stale).Error)

	res = e.service().Process(ctx, notice("pay-k"))
	assert.True(t, res.Success, res.Error)
	assert.True(t, res.AlreadyProcessed)
	assert.Equal(t, 8, e.stock(t, p.ID))
	assert.True(t, e.order(t, o.ID).StockDeducted)
}

// flakyOrders fails the first ApplyPayment.
type flakyOrders struct {
	*orders.Repo
	failed atomic.Bool
}

func (o *flakyOrders) ApplyPayment(ctx context.Context, in orders.ApplyPaymentInput) error {
	if o.failed.CompareAndSwap(false, true) {
		return errors.New("db timeout")
	}
	return o.Repo.ApplyPayment(ctx, in)
}

func TestProcess_RedeliveryRetriesFailedOrderUpdate(t *testing.T) {
	tests := []struct {
		status     string
		wantStatus string
		wantStock  int
	}{
		{"rejected", orders.StatusCancelled, 10},
		{"approved", orders.StatusPending, 8},
	}
	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			e := newEnv(t)
			o, p := e.seedOrder(t, "pref-f", 10, 2)
			pay := approved("pay-f", "pref-f", "")
			pay.Status = tt.status
			e.provider.set(pay)

			gate := payments.NewGate(nil, time.Minute)
			svc := payments.NewSettlementService(gate, e.provider, e.records, &flakyOrders{Repo: e.orders}, e.engine, e.ledger,
				payments.SettlementConfig{ProviderTimeout: time.Second, DBOpTimeout: time.Second})

			first := svc.Process(context.Background(), notice("pay-f"))
			assert.False(t, first.Success)
			assert.Contains(t, first.Error, "db timeout")
			assert.Equal(t, orders.StatusCreated, e.order(t, o.ID).Status)

			second := svc.Process(context.Background(), notice("pay-f"))
			assert.True(t, second.Success, second.Error)
			assert.True(t, second.AlreadyProcessed)

			got := e.order(t, o.ID)
			assert.Equal(t, tt.wantStatus, got.Status)
			require.NotNil(t, got.PaymentID)
			assert.Equal(t, "pay-f", *got.PaymentID)
			assert.Equal(t, tt.wantStock, e.stock(t, p.ID))
		})
	}
}

func TestProcess_AppliedRedeliveryKeepsNewerPayment(t *testing.T) {
	e := newEnv(t)
	o, _ := e.seedOrder(t, "pref-o", 10, 2)
	e.provider.set(approved("pay-o1", "pref-o", ""))
	rejected := approved("pay-o2", "pref-o", "")
	rejected.Status = "rejected"
	e.provider.set(rejected)

	require.True(t, e.service().Process(context.Background(), notice("pay-o1")).Success)
	require.True(t, e.service().Process(context.Background(), notice("pay-o2")).Success)

	res := e.service().Process(context.Background(), notice("pay-o1"))
	assert.True(t, res.Success)
	assert.True(t, res.AlreadyProcessed)

	got := e.order(t, o.ID)
	assert.Equal(t, "pay-o2", *got.PaymentID)
	assert.Equal(t, orders.StatusCancelled, got.Status)
}

func TestProcess_UnknownStatusTouchesNothing(t *testing.T) {
	e := newEnv(t)
	o, p := e.seedOrder(t, "pref-u", 10, 2)
	pay := approved("pay-u", "pref-u", "")
	pay.Status = "mystery_state"
	e.provider.set(pay)

	res := e.service().Process(context.Background(), notice("pay-u"))
	assert.True(t, res.Success)
	assert.False(t, res.AlreadyProcessed)

	got := e.order(t, o.ID)
	assert.Equal(t, orders.StatusCreated, got.Status)
	assert.Nil(t, got.PaymentID)
	assert.False(t, got.StockDeducted)
	assert.Equal(t, 10, e.stock(t, p.ID))

	rec, err := e.records.FindByPaymentID(context.Background(), "pay-u")
	require.NoError(t, err)
	assert.Equal(t, "mystery_state", rec.Status)
}

func TestProcess_RejectedCancelsWithoutStock(t *testing.T) {
	e := newEnv(t)
	o, p := e.seedOrder(t, "pref-x", 10, 2)
	pay := approved("pay-x", "pref-x", "")
	pay.Status = " REJECTED "
	e.provider.set(pay)

	res := e.service().Process(context.Background(), notice("pay-x"))
	assert.True(t, res.Success)
	assert.Equal(t, orders.StatusCancelled, e.order(t, o.ID).Status)
	assert.Equal(t, 10, e.stock(t, p.ID))
}

func TestProcess_CorrelatesThroughExternalReference(t *testing.T) {
	e := newEnv(t)
	o, p := e.seedOrder(t, "pref-e", 10, 2)

	pref := "pref-e"
	ext := "cart-77"
	require.NoError(t, e.records.Insert(context.Background(), &payments.PaymentRecord{
		PaymentID:            "pay-earlier",
		PreferenceID:         &pref,
		ExternalReference:    &ext,
		Status:               "rejected",
		Amount:               decimal.NewFromInt(50),
		CurrencyID:           "BRL",
		HMACValidationResult: payments.ValidationValid,
	}))
	e.provider.set(approved("pay-e", "", ext))

	res := e.service().Process(context.Background(), notice("pay-e"))
	assert.True(t, res.Success)

	got := e.order(t, o.ID)
	assert.Equal(t, orders.StatusPending, got.Status)
	assert.Equal(t, 8, e.stock(t, p.ID))
}

func TestProcess_CorrelatesByOrderIDAsExternalReference(t *testing.T) {
	e := newEnv(t)
	o, p := e.seedOrder(t, "", 5, 1)
	e.provider.set(approved("pay-o", "", o.ID))

	res := e.service().Process(context.Background(), notice("pay-o"))
	assert.True(t, res.Success)
	assert.Equal(t, orders.StatusPending, e.order(t, o.ID).Status)
	assert.Equal(t, 4, e.stock(t, p.ID))
}

func TestProcess_CorrelationMissIsAcknowledged(t *testing.T) {
	e := newEnv(t)
	_, p := e.seedOrder(t, "pref-m", 10, 2)
	e.provider.set(approved("pay-m", "pref-unknown", "nope"))

	res := e.service().Process(context.Background(), notice("pay-m"))
	assert.True(t, res.Success)
	assert.Empty(t, res.Error)
	assert.Equal(t, 10, e.stock(t, p.ID))
}

func TestProcess_ProviderTimeoutReleasesMarker(t *testing.T) {
	e := newEnv(t)
	_, p := e.seedOrder(t, "pref-t", 10, 2)
	e.provider.set(approved("pay-t", "pref-t", ""))
	e.provider.block = true

	gate := payments.NewGate(payments.NewMemoryMarkers(), time.Minute)
	svc := payments.NewSettlementService(gate, e.provider, e.records, e.orders, e.engine, e.ledger,
		payments.SettlementConfig{ProviderTimeout: 20 * time.Millisecond, DBOpTimeout: time.Second})

	res := svc.Process(context.Background(), notice("pay-t"))
	assert.False(t, res.Success)
	assert.NotEmpty(t, res.Error)
	assert.Equal(t, 10, e.stock(t, p.ID))

	e.provider.mu.Lock()
	e.provider.block = false
	e.provider.mu.Unlock()

	res = svc.Process(context.Background(), notice("pay-t"))
	assert.True(t, res.Success, res.Error)
	assert.False(t, res.AlreadyProcessed)
	assert.Equal(t, int32(2), e.provider.calls.Load())
	assert.Equal(t, 8, e.stock(t, p.ID))
}

func TestProcess_ProviderErrorIsFailure(t *testing.T) {
	e := newEnv(t)
	e.provider.err = errors.New("connection reset")

	res := e.service().Process(context.Background(), notice("pay-f"))
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "connection reset")
}

func TestProcess_PanicBecomesFailure(t *testing.T) {
	e := newEnv(t)
	e.provider.panics = true

	res := e.service().Process(context.Background(), notice("pay-p"))
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "provider exploded")
}

func TestProcess_InvalidNotification(t *testing.T) {
	e := newEnv(t)
	res := e.service().Process(context.Background(), payments.Notification{})
	assert.False(t, res.Success)
	assert.Equal(t, int32(0), e.provider.calls.Load())
}

func TestProcess_SkippedItemsRaiseAlert(t *testing.T) {
	e := newEnv(t)
	o, p := e.seedOrder(t, "pref-a", 10, 1)
	require.NoError(t, e.db.Create(&orders.OrderItem{
		ID:        uuid.NewString(),
		OrderID:   o.ID,
		Quantity:  1,
		UnitPrice: decimal.NewFromInt(1),
		CreatedAt: time.Now().Add(time.Second),
	}).Error)
	e.provider.set(approved("pay-a", "pref-a", ""))

	alerts := &recordingAlerter{}
	svc := e.service()
	svc.SetAlerter(alerts)

	res := svc.Process(context.Background(), notice("pay-a"))
	assert.True(t, res.Success)
	assert.Equal(t, 9, e.stock(t, p.ID))
	require.Len(t, alerts.reports, 1)
	assert.Len(t, alerts.reports[0].Skipped, 1)
	assert.True(t, e.order(t, o.ID).StockDeducted)
}

func TestProcess_NewPaymentDoesNotDeductTwice(t *testing.T) {
	e := newEnv(t)
	o, p := e.seedOrder(t, "pref-s", 10, 2)
	e.provider.set(approved("pay-s1", "pref-s", ""))
	e.provider.set(approved("pay-s2", "pref-s", ""))

	require.True(t, e.service().Process(context.Background(), notice("pay-s1")).Success)
	require.True(t, e.service().Process(context.Background(), notice("pay-s2")).Success)

	got := e.order(t, o.ID)
	assert.Equal(t, "pay-s2", *got.PaymentID)
	assert.Equal(t, 8, e.stock(t, p.ID))
}

func TestProcess_NewPaymentAfterRestoreStartsNewCycle(t *testing.T) {
	e := newEnv(t)
	o, p := e.seedOrder(t, "pref-n", 10, 2)
	e.provider.set(approved("pay-n1", "pref-n", ""))
	e.provider.set(approved("pay-n2", "pref-n", ""))

	require.True(t, e.service().Process(context.Background(), notice("pay-n1")).Success)
	restored, err := e.engine.Restore(context.Background(), o.ID, "customer cancelled")
	require.NoError(t, err)
	require.True(t, restored)
	assert.Equal(t, 10, e.stock(t, p.ID))

	require.True(t, e.service().Process(context.Background(), notice("pay-n2")).Success)
	assert.Equal(t, 8, e.stock(t, p.ID))
	assert.True(t, e.order(t, o.ID).StockDeducted)
}

func TestProcess_RecordsSignatureAudit(t *testing.T) {
	e := newEnv(t)
	e.seedOrder(t, "pref-h", 3, 1)
	e.provider.set(approved("pay-h", "pref-h", ""))

	n := notice("pay-h")
	n.RequiresManualVerification = true
	n.AuditContext = &payments.AuditContext{
		ValidationResult: payments.ValidationInvalid,
		FailureReason:    "signature mismatch",
		FallbackUsed:     true,
		SourceRequestID:  "src-1",
	}
	require.True(t, e.service().Process(context.Background(), n).Success)

	rec, err := e.records.FindByPaymentID(context.Background(), "pay-h")
	require.NoError(t, err)
	assert.Equal(t, payments.ValidationInvalid, rec.HMACValidationResult)
	require.NotNil(t, rec.HMACFailureReason)
	assert.Equal(t, "signature mismatch", *rec.HMACFailureReason)
	assert.True(t, rec.HMACFallbackUsed)
	require.NotNil(t, rec.WebhookRequestID)
	assert.Equal(t, "src-1", *rec.WebhookRequestID)
	assert.JSONEq(t, `{"id":"pay-h","status":"approved"}`, string(rec.RawData))
}

type stubEngine struct{ err error }

func (s stubEngine) Deduct(context.Context, string, string) (inventory.Report, error) {
	return inventory.Report{}, s.err
}

func TestProcess_EngineFailures(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		success bool
	}{
		{"order vanished", fmt.Errorf("check flag: %w", orders.ErrOrderNotFound), true},
		{"database down", errors.New("dial tcp: connection refused"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			e.seedOrder(t, "pref-e", 5, 1)
			e.provider.set(approved("pay-e", "pref-e", ""))

			gate := payments.NewGate(nil, time.Minute)
			svc := payments.NewSettlementService(gate, e.provider, e.records, e.orders, stubEngine{err: tt.err}, e.ledger,
				payments.SettlementConfig{ProviderTimeout: time.Second, DBOpTimeout: time.Second})

			res := svc.Process(context.Background(), notice("pay-e"))
			assert.Equal(t, tt.success, res.Success, res.Error)
		})
	}
}
