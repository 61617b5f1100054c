package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"pehlione.com/settlement/internal/http/middleware"
	"pehlione.com/settlement/internal/modules/payments"
	"pehlione.com/settlement/internal/shared/apperr"
)

const (
	HeaderSignature         = "X-Signature"
	HeaderProviderRequestID = "X-Request-Id"

	maxWebhookBody = 64 << 10
)

type SettlementProcessor interface {
	Process(ctx context.Context, n payments.Notification) payments.Result
}

type WebhookHandler struct {
	Logger        *slog.Logger
	Settlement    SettlementProcessor
	Verifier      *payments.SignatureVerifier
	AllowUnsigned bool
}

func NewWebhookHandler(logger *slog.Logger, svc SettlementProcessor, v *payments.SignatureVerifier, allowUnsigned bool) *WebhookHandler {
	return &WebhookHandler{Logger: logger, Settlement: svc, Verifier: v, AllowUnsigned: allowUnsigned}
}

type webhookBody struct {
	Type   string `json:"type"`
	Topic  string `json:"topic"`
	Action string `json:"action"`
	Data   struct {
		ID payments.ProviderID `json:"id"`
	} `json:"data"`
}

// Handle serves POST /webhooks/payments. The provider retries anything that is
// not a 2xx, so a failed settlement answers 500.
func (h *WebhookHandler) Handle(c *gin.Context) {
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		middleware.Fail(c, apperr.InvalidErr("invalid body", nil))
		return
	}

	var body webhookBody
	if len(strings.TrimSpace(string(raw))) > 0 {
		if err := json.Unmarshal(raw, &body); err != nil {
			middleware.Fail(c, apperr.InvalidErr("invalid body", nil))
			return
		}
	}

	topic := firstNonEmpty(body.Type, body.Topic, c.Query("type"), c.Query("topic"))
	id := firstNonEmpty(body.Data.ID.String(), c.Query("data.id"), c.Query("id"))

	if topic != "" && topic != "payment" {
		c.JSON(http.StatusOK, gin.H{"success": true, "ignored": topic})
		return
	}
	if id == "" {
		middleware.Fail(c, apperr.InvalidErr("missing payment id", map[string]string{"data.id": "is required"}))
		return
	}

	audit, err := h.Verifier.Check(c.GetHeader(HeaderSignature), id, c.GetHeader(HeaderProviderRequestID), h.AllowUnsigned)
	if err != nil {
		h.Logger.WarnContext(c.Request.Context(), "webhook signature rejected",
			"request_id", middleware.GetRequestID(c), "payment_id", id, "err", err)
		middleware.Fail(c, apperr.UnauthorizedErr("invalid signature"))
		return
	}
	if audit.FallbackUsed {
		h.Logger.WarnContext(c.Request.Context(), "webhook accepted without valid signature",
			"request_id", middleware.GetRequestID(c), "payment_id", id,
			"validation", audit.ValidationResult, "reason", audit.FailureReason)
	}

	res := h.Settlement.Process(c.Request.Context(), payments.Notification{
		PaymentID:                  id,
		RequestID:                  middleware.GetRequestID(c),
		RequiresManualVerification: audit.FallbackUsed,
		AuditContext:               &audit,
	})

	status := http.StatusOK
	if !res.Success {
		status = http.StatusInternalServerError
	}
	c.JSON(status, res)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
