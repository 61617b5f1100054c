package payments

import (
	"strings"

	"pehlione.com/settlement/internal/modules/orders"
)

// Resolution is what a provider status means for the order.
// An empty OrderStatus means no transition.
type Resolution struct {
	OrderStatus  string
	SecuresStock bool
}

func (r Resolution) Transition() bool { return r.OrderStatus != "" }

var statusTable = map[string]Resolution{
	"approved":   {OrderStatus: orders.StatusPending, SecuresStock: true},
	"pending":    {OrderStatus: orders.StatusPending, SecuresStock: true},
	"in_process": {OrderStatus: orders.StatusPending, SecuresStock: true},
	"authorised": {OrderStatus: orders.StatusPending, SecuresStock: true},
	"authorized": {OrderStatus: orders.StatusPending, SecuresStock: true},

	"rejected":  {OrderStatus: orders.StatusCancelled},
	"cancelled": {OrderStatus: orders.StatusCancelled},
	"canceled":  {OrderStatus: orders.StatusCancelled},
	"refunded":  {OrderStatus: orders.StatusCancelled},

	"charged_back": {OrderStatus: orders.StatusFailed},
}

// Resolve maps a provider payment status to an order status. Pure.
func Resolve(providerStatus string) Resolution {
	return statusTable[strings.ToLower(strings.TrimSpace(providerStatus))]
}
