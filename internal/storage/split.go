package storage

import (
	"context"
	"errors"

	"github.com/permitflow/permitflow/internal/types"
)

// splitStore routes client profile reads to a separate database while the
// permit catalog and the delivery ledger stay on the primary one. Profiles
// are maintained by an external surface and may live in its database.
type splitStore struct {
	Store
	clients Store
}

// NewSplitStore combines a primary store with a dedicated client store.
func NewSplitStore(primary, clients Store) Store {
	return &splitStore{Store: primary, clients: clients}
}

func (s *splitStore) ListClients(ctx context.Context, filter types.ClientFilter) ([]*types.ClientProfile, error) {
	return s.clients.ListClients(ctx, filter)
}

func (s *splitStore) Close() error {
	return errors.Join(s.clients.Close(), s.Store.Close())
}
