package service

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// ClientService issues and validates client identifiers.
type ClientService struct {
	clients ClientStore
	log     zerolog.Logger
}

func NewClientService(clients ClientStore, log zerolog.Logger) *ClientService {
	return &ClientService{clients: clients, log: log.With().Str("component", "clients").Logger()}
}

// Register returns requested when it names a known client, or a freshly issued id.
func (s *ClientService) Register(ctx context.Context, requested *int32) (int32, error) {
	id, err := s.clients.Register(ctx, requested)
	if err != nil {
		return 0, fmt.Errorf("%w: register client: %w", ErrStorage, err)
	}
	ev := s.log.Info().Int32("client_id", id)
	if requested != nil {
		ev = ev.Int32("requested", *requested)
	}
	ev.Msg("client registered")
	return id, nil
}

// Validate reports whether id belongs to a registered client.
func (s *ClientService) Validate(ctx context.Context, id int32) (bool, error) {
	ok, err := s.clients.Exists(ctx, id)
	if err != nil {
		return false, fmt.Errorf("%w: lookup client: %w", ErrStorage, err)
	}
	return ok, nil
}
