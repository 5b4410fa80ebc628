package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	QueueReports = "jobs:session_report"

	JobSessionReport = "session_report"
	JobReportEmail   = "report_email"

	// MaxAttempts before a job is moved to the DLQ.
	MaxAttempts = 3
)

// ErrPermanent marks a failure that retrying cannot fix. Such jobs go
// straight to the DLQ.
var ErrPermanent = errors.New("permanent job failure")

// Job is the generic envelope for all async tasks.
type Job struct {
	Type     string          `json:"type"`
	Payload  json.RawMessage `json:"payload"`
	Attempts int             `json:"attempts,omitempty"`
}

// Processor handles one job type.
type Processor interface {
	Process(ctx context.Context, payload json.RawMessage) error
}

// Dispatcher enqueues async jobs into Redis lists.
// The worker pool dequeues them via BRPOP.
type Dispatcher struct {
	rdb *redis.Client
}

func NewDispatcher(rdb *redis.Client) *Dispatcher {
	return &Dispatcher{rdb: rdb}
}

// EnqueueSessionReport schedules the close report PDF for a session.
func (d *Dispatcher) EnqueueSessionReport(ctx context.Context, sessionID uuid.UUID) error {
	return d.enqueue(ctx, QueueReports, JobSessionReport, ReportJobPayload{SessionID: sessionID.String()})
}

// EnqueueReportEmail schedules mailing of an already rendered close report.
func (d *Dispatcher) EnqueueReportEmail(ctx context.Context, sessionID uuid.UUID, to []string) error {
	return d.enqueue(ctx, QueueReports, JobReportEmail, EmailJobPayload{SessionID: sessionID.String(), To: to})
}

func (d *Dispatcher) enqueue(ctx context.Context, queue, jobType string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return push(ctx, d.rdb, queue, Job{Type: jobType, Payload: data})
}

func push(ctx context.Context, rdb *redis.Client, queue string, job Job) error {
	encoded, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return rdb.LPush(ctx, queue, encoded).Err()
}

// Pool consumes QueueReports with a fixed number of goroutines.
type Pool struct {
	rdb        *redis.Client
	size       int
	processors map[string]Processor
	backoff    func(attempt int) time.Duration
	wg         sync.WaitGroup
}

func NewPool(rdb *redis.Client, size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{rdb: rdb, size: size, processors: make(map[string]Processor), backoff: Backoff}
}

// Register binds a job type to its processor. Call before Start.
func (p *Pool) Register(jobType string, proc Processor) {
	p.processors[jobType] = proc
}

// Start launches the workers. Each goroutine blocks on BRPOP, so idle
// workers cost nothing.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go func(id int) {
			defer p.wg.Done()
			p.run(ctx, id)
		}(i)
	}
	log.Info().Msgf("worker pool started with %d workers", p.size)
}

// Wait blocks until every worker has returned after ctx was cancelled.
func (p *Pool) Wait() { p.wg.Wait() }

func (p *Pool) run(ctx context.Context, id int) {
	for {
		select {
		case <-ctx.Done():
			log.Info().Msgf("worker %d shutting down", id)
			return
		default:
			// Blocking pop; waits up to 5s then loops to check ctx.
			result, err := p.rdb.BRPop(ctx, 5*time.Second, QueueReports).Result()
			if err != nil {
				continue
			}
			if len(result) < 2 {
				continue
			}
			p.handle(ctx, result[0], result[1])
		}
	}
}

// Backoff is 1s, 2s, 4s...
func Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return time.Duration(1<<(attempt-1)) * time.Second
}

func (p *Pool) handle(ctx context.Context, queue, raw string) {
	var job Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		log.Error().Str("queue", queue).Err(err).Msg("failed to unmarshal job")
		SendToDLQ(ctx, p.rdb, queue, "", json.RawMessage(fmt.Sprintf("%q", raw)), "invalid envelope: "+err.Error(), 0)
		return
	}
	proc, ok := p.processors[job.Type]
	if !ok {
		SendToDLQ(ctx, p.rdb, queue, job.Type, job.Payload, "no processor for job type", job.Attempts)
		return
	}

	err := proc.Process(ctx, job.Payload)
	if err == nil {
		return
	}
	job.Attempts++
	logger := log.With().Str("queue", queue).Str("type", job.Type).Int("attempt", job.Attempts).Logger()
	if errors.Is(err, ErrPermanent) || job.Attempts >= MaxAttempts {
		logger.Error().Err(err).Msg("job failed")
		SendToDLQ(ctx, p.rdb, queue, job.Type, job.Payload, err.Error(), job.Attempts)
		return
	}

	logger.Warn().Err(err).Msg("job failed, retrying")
	select {
	case <-ctx.Done():
	case <-time.After(p.backoff(job.Attempts)):
	}
	// Requeue even when shutting down so the job survives the restart.
	if err := push(context.WithoutCancel(ctx), p.rdb, queue, job); err != nil {
		logger.Error().Err(err).Msg("failed to requeue job")
	}
}
