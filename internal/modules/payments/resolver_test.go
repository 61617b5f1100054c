package payments

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"pehlione.com/settlement/internal/modules/orders"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		status string
		want   Resolution
	}{
		{"approved", Resolution{orders.StatusPending, true}},
		{"pending", Resolution{orders.StatusPending, true}},
		{"in_process", Resolution{orders.StatusPending, true}},
		{"authorised", Resolution{orders.StatusPending, true}},
		{"authorized", Resolution{orders.StatusPending, true}},
		{"rejected", Resolution{orders.StatusCancelled, false}},
		{"cancelled", Resolution{orders.StatusCancelled, false}},
		{"canceled", Resolution{orders.StatusCancelled, false}},
		{"refunded", Resolution{orders.StatusCancelled, false}},
		{"charged_back", Resolution{orders.StatusFailed, false}},
		{"  Approved ", Resolution{orders.StatusPending, true}},
		{"CHARGED_BACK", Resolution{orders.StatusFailed, false}},
		{"in_mediation", Resolution{}},
		{"", Resolution{}},
	}
	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			got := Resolve(tt.status)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.want.OrderStatus != "", got.Transition())
		})
	}
}

func TestResolve_OnlyPendingSecuresStock(t *testing.T) {
	for status, r := range statusTable {
		assert.Equal(t, r.OrderStatus == orders.StatusPending, r.SecuresStock, status)
	}
}
