package storage

import (
	"context"
	"io"
)

type PutInput struct {
	// Filename supplies the extension; Prefix groups keys (e.g. "reconcile/2024-05-01").
	Filename    string
	Prefix      string
	ContentType string
	Size        int64
}

type PutResult struct {
	Key string
	URL string
}

// Storage keeps generated artifacts such as reconciliation reports.
type Storage interface {
	Put(ctx context.Context, r io.Reader, in PutInput) (PutResult, error)
	Delete(ctx context.Context, key string) error
}
