package catalog

import (
	"context"

	"github.com/google/uuid"
)

// NoopStore discards every notification after minting an opaque ID. It backs
// deployments that run without a catalog database, such as tests.
type NoopStore struct{}

// NewNoopStore returns a Store that performs no persistence.
func NewNoopStore() *NoopStore {
	return &NoopStore{}
}

func (n *NoopStore) Register(_ context.Context, _ Entry) (string, error) {
	return uuid.NewString(), nil
}

func (n *NoopStore) Update(_ context.Context, _ string, _ string, _ string) error {
	return nil
}

func (n *NoopStore) Delete(_ context.Context, _ string) error {
	return nil
}

func (n *NoopStore) Close() error {
	return nil
}
