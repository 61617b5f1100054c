package admin

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"pehlione.com/settlement/internal/http/middleware"
	"pehlione.com/settlement/internal/http/validation"
	"pehlione.com/settlement/internal/modules/inventory"
	"pehlione.com/settlement/internal/modules/orders"
	"pehlione.com/settlement/internal/shared/apperr"
)

type OrdersHandler struct {
	Orders *orders.Repo
	Ledger *inventory.GormLedger
	Svc    *orders.AdminService
}

func NewOrdersHandler(repo *orders.Repo, ledger *inventory.GormLedger, svc *orders.AdminService) *OrdersHandler {
	return &OrdersHandler{Orders: repo, Ledger: ledger, Svc: svc}
}

// Detail serves GET /admin/orders/:id with items and the stock ledger.
func (h *OrdersHandler) Detail(c *gin.Context) {
	ctx := c.Request.Context()
	o, items, err := h.Orders.GetWithItems(ctx, c.Param("id"))
	if err != nil {
		if orders.IsNotFound(err) {
			middleware.Fail(c, apperr.NotFoundErr("order not found"))
			return
		}
		middleware.Fail(c, apperr.Wrap(err))
		return
	}
	logs, err := h.Ledger.ListByOrder(ctx, o.ID)
	if err != nil {
		middleware.Fail(c, apperr.Wrap(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"order":      o,
		"items":      items,
		"stock_logs": logs,
	})
}

type actionBody struct {
	Actor string `json:"actor" binding:"required,max=64"`
	Note  string `json:"note" binding:"max=255"`
}

// Action serves POST /admin/orders/:id/:action (cancel|fail).
func (h *OrdersHandler) Action(c *gin.Context) {
	var body actionBody
	if err := c.ShouldBindJSON(&body); err != nil {
		middleware.Fail(c, apperr.InvalidErr("invalid request", validation.FromBindError(err, &body)))
		return
	}

	res, err := h.Svc.Transition(c.Request.Context(), orders.TransitionInput{
		OrderID:     c.Param("id"),
		ActorUserID: body.Actor,
		Action:      c.Param("action"),
		Note:        body.Note,
	})
	if err != nil {
		switch {
		case orders.IsNotFound(err):
			middleware.Fail(c, apperr.NotFoundErr("order not found"))
		case errors.Is(err, orders.ErrInvalidTransition), errors.Is(err, orders.ErrNotActionable):
			middleware.Fail(c, apperr.InvalidErr("invalid status transition", nil))
		case errors.Is(err, orders.ErrStaleWrite):
			middleware.Fail(c, apperr.ConflictErr("order changed concurrently, retry"))
		default:
			middleware.Fail(c, apperr.Wrap(err))
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"from":           res.FromStatus,
		"to":             res.ToStatus,
		"stock_restored": res.StockRestored,
	})
}
