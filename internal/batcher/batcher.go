// Package batcher mirrors accepted logs into the archive. It reads from its
// own hub subscription, groups logs per client and uploads each group as one
// gzip JSON object when the batch is full, on a timer, and on Stop.
package batcher

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/akave-ai/tracectrl/internal/config"
	"github.com/akave-ai/tracectrl/internal/hub"
	"github.com/akave-ai/tracectrl/internal/model"
	"github.com/akave-ai/tracectrl/internal/storage"
)

// Uploader stores one encoded batch.
type Uploader interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
}

type BatcherConfig struct {
	MaxBatchSize  int
	FlushInterval time.Duration
	UploadTimeout time.Duration
}

func DefaultBatcherConfig() BatcherConfig {
	return BatcherConfig{
		MaxBatchSize:  500,
		FlushInterval: 30 * time.Second,
		UploadTimeout: 30 * time.Second,
	}
}

// ConfigFrom overlays the configured values on the defaults. An unparsable
// flush interval keeps the default.
func ConfigFrom(cfg *config.BatcherConfig) BatcherConfig {
	bc := DefaultBatcherConfig()
	if cfg == nil {
		return bc
	}
	if cfg.MaxBatchSize > 0 {
		bc.MaxBatchSize = cfg.MaxBatchSize
	}
	if cfg.FlushInterval != "" {
		if d, err := time.ParseDuration(cfg.FlushInterval); err == nil && d > 0 {
			bc.FlushInterval = d
		}
	}
	return bc
}

// BatcherOpts are optional hooks.
type BatcherOpts struct {
	OnFlush func(count int, key string, err error)
	Now     func() time.Time
}

// Status is a snapshot for GET /uploads/status.
type Status struct {
	Enabled   bool      `json:"enabled"`
	LastAt    time.Time `json:"last_upload_at,omitempty"`
	LastKey   string    `json:"last_upload_key,omitempty"`
	LastCount int       `json:"last_upload_count"`
	LastError string    `json:"last_error,omitempty"`
	Pending   int       `json:"pending_count"`
	Uploaded  int       `json:"uploaded_count"`
}

type Batcher struct {
	cfg  BatcherConfig
	up   Uploader
	sub  *hub.Subscription[*model.Log]
	opts BatcherOpts
	log  zerolog.Logger

	pending map[int32][]*model.Log
	count   int

	mu     sync.Mutex
	status Status

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewBatcher starts consuming sub in the background.
func NewBatcher(cfg BatcherConfig, up Uploader, sub *hub.Subscription[*model.Log], log zerolog.Logger, opts *BatcherOpts) *Batcher {
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = DefaultBatcherConfig().MaxBatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultBatcherConfig().FlushInterval
	}
	if cfg.UploadTimeout <= 0 {
		cfg.UploadTimeout = DefaultBatcherConfig().UploadTimeout
	}
	b := &Batcher{
		cfg:     cfg,
		up:      up,
		sub:     sub,
		log:     log.With().Str("component", "batcher").Logger(),
		pending: make(map[int32][]*model.Log),
		status:  Status{Enabled: true},
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	if opts != nil {
		b.opts = *opts
	}
	if b.opts.Now == nil {
		b.opts.Now = time.Now
	}
	go b.run()
	return b
}

func (b *Batcher) run() {
	defer close(b.done)
	ticker := time.NewTicker(b.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case entry, ok := <-b.sub.C():
			if !ok {
				b.flush()
				return
			}
			b.add(entry)
			if b.count >= b.cfg.MaxBatchSize {
				b.flush()
			}
		case <-ticker.C:
			b.flush()
		case <-b.stop:
			b.drain()
			b.flush()
			return
		}
	}
}

func (b *Batcher) add(entry *model.Log) {
	b.pending[entry.ClientID] = append(b.pending[entry.ClientID], entry)
	b.count++
	b.mu.Lock()
	b.status.Pending = b.count
	b.mu.Unlock()
}

// drain takes whatever the subscription already buffered.
func (b *Batcher) drain() {
	for {
		select {
		case entry, ok := <-b.sub.C():
			if !ok {
				return
			}
			b.add(entry)
		default:
			return
		}
	}
}

func (b *Batcher) flush() {
	if b.count == 0 {
		return
	}
	clients := make([]int32, 0, len(b.pending))
	for id := range b.pending {
		clients = append(clients, id)
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i] < clients[j] })

	for _, clientID := range clients {
		b.upload(clientID, b.pending[clientID])
	}
	b.pending = make(map[int32][]*model.Log)
	b.count = 0
	b.mu.Lock()
	b.status.Pending = 0
	b.mu.Unlock()
}

func (b *Batcher) upload(clientID int32, logs []*model.Log) {
	now := b.opts.Now()
	key := storage.KeyForBatch(clientID, uuid.NewString(), now)

	data, err := storage.EncodeBatch(logs)
	if err == nil {
		ctx, cancel := context.WithTimeout(context.Background(), b.cfg.UploadTimeout)
		err = b.up.Put(ctx, key, data, storage.ContentTypeGzipJSON)
		cancel()
	}

	b.mu.Lock()
	if err != nil {
		b.status.LastError = err.Error()
	} else {
		b.status.LastAt = now.UTC()
		b.status.LastKey = key
		b.status.LastCount = len(logs)
		b.status.LastError = ""
		b.status.Uploaded += len(logs)
	}
	b.mu.Unlock()

	if err != nil {
		b.log.Error().Err(err).Int32("client_id", clientID).Int("count", len(logs)).Msg("archive upload failed, batch dropped")
	} else {
		b.log.Info().Int32("client_id", clientID).Int("count", len(logs)).Str("key", key).Msg("archived batch")
	}
	if b.opts.OnFlush != nil {
		b.opts.OnFlush(len(logs), key, err)
	}
}

// Status returns the latest upload state.
func (b *Batcher) Status() Status {
	if b == nil {
		return Status{}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}

// Stop flushes what is pending, including logs still buffered in the
// subscription, and releases the subscription. It blocks until done.
func (b *Batcher) Stop() {
	b.stopOnce.Do(func() {
		close(b.stop)
		<-b.done
		b.sub.Close()
	})
}
