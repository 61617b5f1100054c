package apphttp

import (
	"log/slog"

	"github.com/gin-gonic/gin"

	"pehlione.com/settlement/internal/http/handlers"
	"pehlione.com/settlement/internal/http/handlers/admin"
	"pehlione.com/settlement/internal/http/middleware"
	"pehlione.com/settlement/internal/modules/inventory"
	"pehlione.com/settlement/internal/modules/orders"
	"pehlione.com/settlement/internal/modules/payments"
)

type Deps struct {
	Settlement    handlers.SettlementProcessor
	Verifier      *payments.SignatureVerifier
	AllowUnsigned bool

	DB handlers.Pinger

	// Admin routes are mounted only when AdminToken is set.
	AdminToken string
	Orders     *orders.Repo
	Ledger     *inventory.GormLedger
	OrderAdmin *orders.AdminService
}

func NewRouter(logger *slog.Logger, d Deps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(
		middleware.RequestID(),
		middleware.Logger(logger, "/healthz", "/readyz"),
		middleware.Recovery(logger),
		middleware.ErrorHandler(logger),
	)

	health := &handlers.HealthHandler{DB: d.DB}
	r.GET("/healthz", health.Live)
	r.GET("/readyz", health.Ready)

	wh := handlers.NewWebhookHandler(logger, d.Settlement, d.Verifier, d.AllowUnsigned)
	r.POST("/webhooks/payments", wh.Handle)

	if d.AdminToken != "" && d.OrderAdmin != nil {
		oh := admin.NewOrdersHandler(d.Orders, d.Ledger, d.OrderAdmin)
		g := r.Group("/admin", middleware.RequireAdminToken(d.AdminToken))
		g.GET("/orders/:id", oh.Detail)
		g.POST("/orders/:id/:action", oh.Action)
	}

	return r
}
