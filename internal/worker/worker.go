package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/consentdac/backend/internal/models"
	"github.com/consentdac/backend/pkg/metrics"
	"github.com/consentdac/backend/pkg/queue"
)

// Jobs is the queue side of the worker. *queue.Queue satisfies it.
type Jobs interface {
	Dequeue(ctx context.Context, timeout time.Duration) (*queue.Job, error)
	Retry(ctx context.Context, job *queue.Job) (bool, error)
}

// StatusStore settles email_logs rows.
type StatusStore interface {
	UpdateStatus(ctx context.Context, id uuid.UUID, status, errMsg string) error
}

// Sender delivers one HTML email.
type Sender interface {
	Send(ctx context.Context, to, subject, htmlBody string) error
}

// EmailProcessor drains the email queue: send, then record the outcome on the
// email log.
type EmailProcessor struct {
	jobs    Jobs
	logs    StatusStore
	sender  Sender
	active  bool
	metrics *metrics.Metrics
	logger  *zap.Logger
	backoff time.Duration
	poll    time.Duration
}

// NewEmailProcessor creates an email processor. When active is false mails
// are marked disabled instead of sent.
func NewEmailProcessor(jobs Jobs, logs StatusStore, sender Sender, active bool, m *metrics.Metrics, logger *zap.Logger) *EmailProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.Nop()
	}
	return &EmailProcessor{
		jobs:    jobs,
		logs:    logs,
		sender:  sender,
		active:  active,
		metrics: m,
		logger:  logger,
		backoff: queue.RetryBackoff,
		poll:    5 * time.Second,
	}
}

// Process executes one email job.
func (p *EmailProcessor) Process(ctx context.Context, job *queue.Job) error {
	payload, err := job.Email()
	if err != nil {
		return err
	}
	if !p.active {
		p.metrics.EmailJobs.WithLabelValues("disabled").Inc()
		p.logger.Info("email service inactive, not sending",
			zap.String("email_log_id", payload.EmailLogID.String()),
			zap.String("to", payload.RecipientEmail))
		return p.settle(ctx, payload.EmailLogID, models.EmailLogStatusDisabled, "")
	}
	if err := p.sender.Send(ctx, payload.RecipientEmail, payload.Subject, payload.BodyHTML); err != nil {
		return fmt.Errorf("send to %s: %w", payload.RecipientEmail, err)
	}
	p.metrics.EmailJobs.WithLabelValues("sent").Inc()
	p.logger.Info("email sent",
		zap.String("email_log_id", payload.EmailLogID.String()),
		zap.String("email_type", payload.EmailType))
	return p.settle(ctx, payload.EmailLogID, models.EmailLogStatusSent, "")
}

func (p *EmailProcessor) settle(ctx context.Context, id uuid.UUID, status, errMsg string) error {
	if id == uuid.Nil {
		return nil
	}
	if err := p.logs.UpdateStatus(ctx, id, status, errMsg); err != nil {
		// the mail itself is settled; a retry would send it twice
		p.logger.Warn("update email log failed", zap.Error(err), zap.String("email_log_id", id.String()))
	}
	return nil
}

// handleFailure retries a failed job, or marks its log failed once the job
// is dead-lettered.
func (p *EmailProcessor) handleFailure(ctx context.Context, job *queue.Job, cause error) {
	dead, err := p.jobs.Retry(ctx, job)
	if err != nil {
		p.logger.Error("retry enqueue failed", zap.Error(err), zap.String("job_id", job.ID))
		return
	}
	if !dead {
		p.metrics.EmailJobs.WithLabelValues("retried").Inc()
		return
	}
	p.metrics.EmailJobs.WithLabelValues("failed").Inc()
	if payload, err := job.Email(); err == nil {
		_ = p.settle(ctx, payload.EmailLogID, models.EmailLogStatusFailed, cause.Error())
	}
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *EmailProcessor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("email worker stopping")
			return
		default:
		}

		job, err := p.jobs.Dequeue(ctx, p.poll)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			sleep(ctx, p.backoff)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt), zap.Error(err))
			p.handleFailure(ctx, job, err)
			sleep(ctx, p.backoff)
		}
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
