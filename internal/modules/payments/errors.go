package payments

import "errors"

var (
	ErrPaymentNotFound   = errors.New("payment not found at provider")
	ErrRecordNotFound    = errors.New("payment record not found")
	ErrInvalidNotice     = errors.New("invalid payment notification")
	ErrProviderMalformed = errors.New("malformed provider response")
	ErrStockClaimHeld    = errors.New("stock commitment held by another execution")

	ErrSignatureMissing   = errors.New("signature header missing")
	ErrSignatureMalformed = errors.New("signature header malformed")
	ErrSignatureMismatch  = errors.New("signature mismatch")
	ErrSignatureExpired   = errors.New("signature timestamp outside allowed skew")
)
