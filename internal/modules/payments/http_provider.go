package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"pehlione.com/settlement/internal/shared/apperr"
)

const maxProviderBody = 1 << 20

// HTTPProvider reads payments from a Mercado Pago style REST API:
// GET {base}/v1/payments/{id} with a bearer token.
type HTTPProvider struct {
	name    string
	baseURL string
	token   string
	client  *http.Client
}

func NewHTTPProvider(name, baseURL, token string, timeout time.Duration) *HTTPProvider {
	return &HTTPProvider{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}
}

func (p *HTTPProvider) Name() string { return p.name }

func (p *HTTPProvider) GetPayment(ctx context.Context, paymentID string) (ProviderPayment, error) {
	endpoint := p.baseURL + "/v1/payments/" + url.PathEscape(paymentID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return ProviderPayment{}, err
	}
	req.Header.Set("Accept", "application/json")
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		// timeouts included: the provider may have answered, so this is never "no effect"
		return ProviderPayment{}, apperr.UnavailableErr("payment provider unreachable", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProviderBody))
	if err != nil {
		return ProviderPayment{}, apperr.UnavailableErr("payment provider read failed", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		return ProviderPayment{}, fmt.Errorf("%s: %w", paymentID, ErrPaymentNotFound)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return ProviderPayment{}, apperr.UnavailableErr("payment provider unavailable",
			fmt.Errorf("provider status %d", resp.StatusCode))
	default:
		return ProviderPayment{}, fmt.Errorf("provider status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	var out ProviderPayment
	if err := json.Unmarshal(body, &out); err != nil {
		return ProviderPayment{}, fmt.Errorf("%w: %v", ErrProviderMalformed, err)
	}
	if out.ID == "" || out.Status == "" {
		return ProviderPayment{}, fmt.Errorf("%w: missing id or status", ErrProviderMalformed)
	}
	out.Raw = json.RawMessage(body)
	return out, nil
}

// IsTransient reports failures the provider is expected to recover from.
func IsTransient(err error) bool {
	return apperr.KindOf(err) == apperr.Unavailable || errors.Is(err, context.DeadlineExceeded)
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	return s[:n]
}
