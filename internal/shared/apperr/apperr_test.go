package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"invalid", InvalidErr("bad", nil), http.StatusBadRequest},
		{"unauthorized", UnauthorizedErr("sig"), http.StatusUnauthorized},
		{"not found", NotFoundErr("nope"), http.StatusNotFound},
		{"conflict", ConflictErr("dup"), http.StatusConflict},
		{"unavailable", UnavailableErr("provider", errors.New("timeout")), http.StatusServiceUnavailable},
		{"wrapped app error", fmt.Errorf("ctx: %w", NotFoundErr("nope")), http.StatusNotFound},
		{"plain error", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.err))
		})
	}
}

func TestWrap(t *testing.T) {
	assert.Nil(t, Wrap(nil))

	inner := errors.New("db down")
	w := Wrap(inner)
	assert.Equal(t, Internal, w.Kind)
	assert.ErrorIs(t, w, inner)
	assert.Equal(t, defaultPublicMsg, PublicMessage(w))

	nf := NotFoundErr("order not found")
	assert.Same(t, nf, Wrap(nf))
	assert.Equal(t, "order not found", PublicMessage(nf))
	assert.Equal(t, NotFound, KindOf(fmt.Errorf("x: %w", nf)))
	assert.Equal(t, Internal, KindOf(inner))
}
