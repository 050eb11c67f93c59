package service

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/akave-ai/tracectrl/internal/model"
	"github.com/akave-ai/tracectrl/internal/repository"
)

// LogServiceOpts carries the optional collaborators of a LogService.
type LogServiceOpts struct {
	Cache   LogCache
	Metrics Recorder
	Now     func() time.Time
}

// LogService accepts reports, stores them and hands them to live viewers.
type LogService struct {
	clients  ClientStore
	logs     LogStore
	hub      Publisher
	cache    LogCache
	metrics  Recorder
	now      func() time.Time
	validate *validator.Validate
	log      zerolog.Logger
}

func NewLogService(clients ClientStore, logs LogStore, hub Publisher, log zerolog.Logger, opts *LogServiceOpts) *LogService {
	s := &LogService{
		clients:  clients,
		logs:     logs,
		hub:      hub,
		metrics:  nopRecorder{},
		now:      Now,
		validate: validator.New(),
		log:      log.With().Str("component", "ingest").Logger(),
	}
	if opts != nil {
		s.cache = opts.Cache
		if opts.Metrics != nil {
			s.metrics = opts.Metrics
		}
		if opts.Now != nil {
			s.now = opts.Now
		}
	}
	return s
}

// Ingest validates the client and payload, stores the report and publishes it.
// Once the report is stored the call succeeds; publishing and caching are best effort.
func (s *LogService) Ingest(ctx context.Context, clientID int32, origin *netip.Addr, body *model.LogBody) (*model.Receipt, error) {
	start := time.Now()
	outcome := OutcomeFailed
	defer func() { s.metrics.ObserveIngest(outcome, time.Since(start)) }()

	ok, err := s.clients.Exists(ctx, clientID)
	if err != nil {
		return nil, fmt.Errorf("%w: lookup client: %w", ErrStorage, err)
	}
	if !ok {
		outcome = OutcomeRejected
		return nil, ErrUnknownClient
	}
	if body == nil {
		outcome = OutcomeRejected
		return nil, fmt.Errorf("%w: empty body", ErrInvalidPayload)
	}
	if err := s.validate.Struct(body); err != nil {
		outcome = OutcomeRejected
		return nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}

	entry := body.Normalize(s.now())
	entry.ClientID = clientID
	entry.ReceivedFrom = origin

	if err := s.logs.Persist(ctx, entry); err != nil {
		if errors.Is(err, repository.ErrClientNotFound) {
			outcome = OutcomeRejected
			return nil, ErrUnknownClient
		}
		s.log.Error().Err(err).Int32("client_id", clientID).Str("log_id", entry.ID.String()).Msg("persist log")
		return nil, fmt.Errorf("%w: persist log: %w", ErrStorage, err)
	}
	outcome = OutcomeAccepted

	s.publish(entry)
	if s.cache != nil {
		if err := s.cache.Set(ctx, entry); err != nil {
			s.log.Warn().Err(err).Str("log_id", entry.ID.String()).Msg("cache log")
		}
	}

	s.log.Info().
		Int32("client_id", clientID).
		Str("log_id", entry.ID.String()).
		Int("layers", len(entry.Backtrace.Layers)).
		Msg("log accepted")
	return &model.Receipt{ID: entry.ID, AcceptedAt: entry.Date}, nil
}

func (s *LogService) publish(entry *model.Log) {
	n, err := s.hub.Publish(entry)
	if err != nil {
		s.log.Warn().Err(err).Str("log_id", entry.ID.String()).Msg("broadcast failed")
		return
	}
	if n == 0 {
		s.log.Debug().Str("log_id", entry.ID.String()).Msg("no live viewers")
	}
}

// List returns every log, or only the logs of clientID when it is set.
func (s *LogService) List(ctx context.Context, clientID *int32) ([]model.Log, error) {
	if clientID != nil {
		if err := s.requireClient(ctx, *clientID); err != nil {
			return nil, err
		}
	}
	logs, err := s.logs.List(ctx, clientID)
	if err != nil {
		return nil, fmt.Errorf("%w: list logs: %w", ErrStorage, err)
	}
	return logs, nil
}

// Get returns the log with id if it belongs to clientID.
func (s *LogService) Get(ctx context.Context, id uuid.UUID, clientID int32) (*model.Log, error) {
	if err := s.requireClient(ctx, clientID); err != nil {
		return nil, err
	}

	if s.cache != nil {
		cached, err := s.cache.Get(ctx, clientID, id)
		if err != nil {
			s.log.Warn().Err(err).Str("log_id", id.String()).Msg("cache lookup")
		} else if cached != nil {
			return cached, nil
		}
	}

	entry, err := s.logs.Get(ctx, id, clientID)
	if err != nil {
		return nil, fmt.Errorf("%w: get log: %w", ErrStorage, err)
	}
	if entry == nil {
		return nil, ErrNotFound
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, entry); err != nil {
			s.log.Warn().Err(err).Str("log_id", id.String()).Msg("cache log")
		}
	}
	return entry, nil
}

func (s *LogService) requireClient(ctx context.Context, id int32) error {
	ok, err := s.clients.Exists(ctx, id)
	if err != nil {
		return fmt.Errorf("%w: lookup client: %w", ErrStorage, err)
	}
	if !ok {
		return ErrUnknownClient
	}
	return nil
}
