package inventory

import "errors"

var (
	ErrStockContention = errors.New("stock counter kept changing during compare-and-swap")
	ErrInvalidLineItem = errors.New("line item references neither a product nor a variant")
)
