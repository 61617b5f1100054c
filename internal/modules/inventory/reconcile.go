package inventory

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"pehlione.com/settlement/internal/modules/orders"
)

const (
	ProblemMissingDeduct = "missing_deduct"
	ProblemNoReference   = "no_reference"
	ProblemOverDeducted  = "over_deducted"
	// order closed by a refund, chargeback or rejection while its stock is
	// still committed; an operator cancel restores it
	ProblemHeldByClosedOrder = "held_by_closed_order"
)

// CommittedOrders pages through orders whose stock flag is set.
type CommittedOrders interface {
	ListCommitted(ctx context.Context, in orders.ListCommittedParams) ([]orders.Order, error)
	Items(ctx context.Context, orderID string) ([]orders.OrderItem, error)
}

type LedgerReader interface {
	ListByOrder(ctx context.Context, orderID string) ([]StockLog, error)
}

// Discrepancy is a committed line item whose ledger does not show exactly one
// outstanding deduction, or a closed order still holding stock (no item id).
type Discrepancy struct {
	OrderID     string
	PaymentID   string
	OrderItemID string
	Ref         string
	Quantity    int
	Deducts     int
	Restores    int
	Problem     string
}

type Reconciler struct {
	orders   CommittedOrders
	ledger   LedgerReader
	pageSize int
}

func NewReconciler(o CommittedOrders, l LedgerReader) *Reconciler {
	return &Reconciler{orders: o, ledger: l, pageSize: 200}
}

// Run scans committed orders updated since the given time. It reports only;
// nothing is adjusted.
func (r *Reconciler) Run(ctx context.Context, since time.Time) ([]Discrepancy, error) {
	var out []Discrepancy
	after := ""
	for {
		page, err := r.orders.ListCommitted(ctx, orders.ListCommittedParams{Since: since, AfterID: after, PageSize: r.pageSize})
		if err != nil {
			return nil, fmt.Errorf("list committed orders: %w", err)
		}
		if len(page) == 0 {
			return out, nil
		}
		for _, o := range page {
			ds, err := r.check(ctx, o)
			if err != nil {
				return nil, err
			}
			out = append(out, ds...)
		}
		after = page[len(page)-1].ID
	}
}

func (r *Reconciler) check(ctx context.Context, o orders.Order) ([]Discrepancy, error) {
	items, err := r.orders.Items(ctx, o.ID)
	if err != nil {
		return nil, fmt.Errorf("order %s items: %w", o.ID, err)
	}
	logs, err := r.ledger.ListByOrder(ctx, o.ID)
	if err != nil {
		return nil, fmt.Errorf("order %s ledger: %w", o.ID, err)
	}

	type tally struct{ deducts, restores int }
	per := make(map[string]*tally, len(items))
	for _, l := range logs {
		kind, _, _ := strings.Cut(l.DedupeKey, ":")
		t := per[l.OrderItemID]
		if t == nil {
			t = &tally{}
			per[l.OrderItemID] = t
		}
		switch kind {
		case KindDeduct:
			t.deducts++
		case KindRestore:
			t.restores++
		}
	}

	var out []Discrepancy
	if o.Status == orders.StatusCancelled || o.Status == orders.StatusFailed {
		d := Discrepancy{OrderID: o.ID, Problem: ProblemHeldByClosedOrder}
		if o.PaymentID != nil {
			d.PaymentID = *o.PaymentID
		}
		for _, it := range items {
			d.Quantity += it.Quantity
		}
		out = append(out, d)
	}
	for _, it := range items {
		ref := refOf(it)
		d := Discrepancy{OrderID: o.ID, OrderItemID: it.ID, Quantity: it.Quantity}
		if o.PaymentID != nil {
			d.PaymentID = *o.PaymentID
		}
		if t := per[it.ID]; t != nil {
			d.Deducts, d.Restores = t.deducts, t.restores
		}

		switch net := d.Deducts - d.Restores; {
		case ref.ProductID == "" && ref.VariantID == "":
			d.Problem = ProblemNoReference
		case net < 1:
			d.Problem = ProblemMissingDeduct
		case net > 1:
			d.Problem = ProblemOverDeducted
		default:
			continue
		}
		if d.Problem != ProblemNoReference {
			d.Ref = ref.String()
		}
		out = append(out, d)
	}
	return out, nil
}

var csvHeader = []string{"order_id", "payment_id", "order_item_id", "stock_ref", "quantity", "deducts", "restores", "problem"}

func WriteCSV(w io.Writer, rows []Discrepancy) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, d := range rows {
		rec := []string{
			d.OrderID, d.PaymentID, d.OrderItemID, d.Ref,
			strconv.Itoa(d.Quantity), strconv.Itoa(d.Deducts), strconv.Itoa(d.Restores), d.Problem,
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
