package session

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ggustin93/emg-c3d-analyzer-sub000/internal/config"
	"github.com/ggustin93/emg-c3d-analyzer-sub000/internal/storage"
)

// ProcessRequest is one unit of work for the pool.
type ProcessRequest struct {
	SessionID string
	Options   ProcessOptions
}

// ErrQueueFull signals backpressure; callers translate it to a 503.
var ErrQueueFull = errors.New("session: processing queue full")

// Pool fans session processing across a fixed set of workers. Tasks are
// independent; within one session the stages stay sequential inside
// ProcessSession.
type Pool struct {
	orch    *Orchestrator
	queue   chan ProcessRequest
	workers int
	wg      sync.WaitGroup
	log     zerolog.Logger

	mu      sync.Mutex
	started bool
}

// NewPool sizes the pool from configuration.
func NewPool(orch *Orchestrator, cfg config.WorkerConfig, logger zerolog.Logger) *Pool {
	count := cfg.Count
	if count <= 0 {
		count = 4
	}
	size := cfg.QueueSize
	if size <= 0 {
		size = 64
	}
	return &Pool{
		orch:    orch,
		queue:   make(chan ProcessRequest, size),
		workers: count,
		log:     logger.With().Str("component", "worker_pool").Logger(),
	}
}

// Enqueue submits a request without blocking. ErrQueueFull when saturated.
func (p *Pool) Enqueue(req ProcessRequest) error {
	select {
	case p.queue <- req:
		return nil
	default:
		return ErrQueueFull
	}
}

// Depth reports the number of queued, unstarted requests.
func (p *Pool) Depth() int { return len(p.queue) }

// Start launches the workers. They drain the queue until ctx is cancelled.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
	p.log.Info().Int("workers", p.workers).Int("queue_size", cap(p.queue)).Msg("worker pool started")
}

// Stop waits for in-flight work to finish. Pending queue entries are
// abandoned; retries re-enqueue on next delivery of the webhook.
func (p *Pool) Stop() {
	p.wg.Wait()
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	log := p.log.With().Int("worker", id).Logger()
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-p.queue:
			if err := p.orch.ProcessSession(ctx, req.SessionID, req.Options); err != nil {
				if errors.Is(err, storage.ErrUnavailable) {
					log.Warn().Str("session_id", req.SessionID).Msg("storage unavailable, session left for retry")
					continue
				}
				log.Warn().Str("session_id", req.SessionID).Err(err).Msg("processing failed")
				continue
			}
			log.Debug().Str("session_id", req.SessionID).Msg("processing done")
		}
	}
}
