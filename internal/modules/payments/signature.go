package payments

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	ValidationValid   = "valid"
	ValidationInvalid = "invalid"
	ValidationMissing = "missing"
	ValidationSkipped = "skipped" // no secret configured
)

// AuditContext records how the notification's signature check went.
type AuditContext struct {
	ValidationResult string `json:"validation_result" validate:"omitempty,oneof=valid invalid missing skipped"`
	FailureReason    string `json:"failure_reason,omitempty" validate:"max=255"`
	FallbackUsed     bool   `json:"fallback_used"`
	SourceRequestID  string `json:"source_request_id,omitempty" validate:"max=128"`
}

// SignatureVerifier checks "ts=<unix>,v1=<hex>" headers. The signed manifest is
// "id:<data.id>;request-id:<x-request-id>;ts:<ts>;".
type SignatureVerifier struct {
	secret  []byte
	maxSkew time.Duration
	now     func() time.Time
}

func NewSignatureVerifier(secret string, maxSkew time.Duration) *SignatureVerifier {
	return &SignatureVerifier{secret: []byte(secret), maxSkew: maxSkew, now: time.Now}
}

func manifest(dataID, requestID, ts string) string {
	return "id:" + strings.ToLower(dataID) + ";request-id:" + requestID + ";ts:" + ts + ";"
}

// Sign builds a header value for dataID. Used by tools and tests.
func Sign(secret, dataID, requestID string, ts time.Time) string {
	t := strconv.FormatInt(ts.Unix(), 10)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(manifest(dataID, requestID, t)))
	return "ts=" + t + ",v1=" + hex.EncodeToString(mac.Sum(nil))
}

func (v *SignatureVerifier) Verify(header, dataID, requestID string) error {
	header = strings.TrimSpace(header)
	if header == "" {
		return ErrSignatureMissing
	}

	var ts, sig string
	for _, part := range strings.Split(header, ",") {
		k, val, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch strings.TrimSpace(k) {
		case "ts":
			ts = strings.TrimSpace(val)
		case "v1":
			sig = strings.TrimSpace(val)
		}
	}
	if ts == "" || sig == "" {
		return ErrSignatureMalformed
	}
	sec, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: bad ts", ErrSignatureMalformed)
	}
	got, err := hex.DecodeString(sig)
	if err != nil {
		return fmt.Errorf("%w: bad v1", ErrSignatureMalformed)
	}

	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(manifest(dataID, requestID, ts)))
	if !hmac.Equal(got, mac.Sum(nil)) {
		return ErrSignatureMismatch
	}

	if v.maxSkew > 0 {
		age := v.now().Sub(time.Unix(sec, 0))
		if age < 0 {
			age = -age
		}
		if age > v.maxSkew {
			return ErrSignatureExpired
		}
	}
	return nil
}

// Check verifies and turns the outcome into an AuditContext. The error is
// non-nil only when the notification must be rejected.
func (v *SignatureVerifier) Check(header, dataID, requestID string, allowUnsigned bool) (AuditContext, error) {
	audit := AuditContext{SourceRequestID: requestID}
	if len(v.secret) == 0 {
		audit.ValidationResult = ValidationSkipped
		audit.FallbackUsed = true
		return audit, nil
	}

	err := v.Verify(header, dataID, requestID)
	switch {
	case err == nil:
		audit.ValidationResult = ValidationValid
		return audit, nil
	case errors.Is(err, ErrSignatureMissing):
		audit.ValidationResult = ValidationMissing
	default:
		audit.ValidationResult = ValidationInvalid
	}
	audit.FailureReason = err.Error()

	if !allowUnsigned {
		return audit, err
	}
	audit.FallbackUsed = true
	return audit, nil
}
