package products

import "errors"

var (
	ErrProductNotFound = errors.New("product not found")
	ErrInvalidRef      = errors.New("stock reference needs a product or a variant")
)
