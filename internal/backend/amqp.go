package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/streadway/amqp"

	"github.com/intakehq/docpipe/constants"
	"github.com/intakehq/docpipe/internal/entity"
	"github.com/intakehq/docpipe/internal/faults"
	"github.com/intakehq/docpipe/internal/repository"
)

// AMQP publishes jobs to a durable queue consumed by external runners. The
// broker gives no synchronous acknowledgement id, so a locally minted one is
// stored as the external job id and carried in the message id for the runner
// to echo back.
type AMQP struct {
	jobs   repository.JobStore
	url    string
	queue  string
	logger *slog.Logger

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

func NewAMQP(jobs repository.JobStore, url, queue string, logger *slog.Logger) *AMQP {
	if logger == nil {
		logger = slog.Default()
	}
	return &AMQP{jobs: jobs, url: url, queue: queue, logger: logger}
}

func (a *AMQP) Name() string { return "amqp" }

// channel returns a usable channel, dialing lazily and declaring the durable
// queue on first use.
func (a *AMQP) channel() (*amqp.Channel, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ch != nil {
		return a.ch, nil
	}

	conn, err := amqp.Dial(a.url)
	if err != nil {
		return nil, fmt.Errorf("dial broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(
		a.queue, // name
		true,    // durable
		false,   // delete when unused
		false,   // exclusive
		false,   // no-wait
		nil,     // arguments
	); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare queue %s: %w", a.queue, err)
	}

	a.conn = conn
	a.ch = ch
	a.logger.Info("connected to broker", "queue", a.queue)
	return ch, nil
}

// reset drops the cached connection so the next Submit redials.
func (a *AMQP) reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ch != nil {
		a.ch.Close()
		a.ch = nil
	}
	if a.conn != nil {
		a.conn.Close()
		a.conn = nil
	}
}

func (a *AMQP) Submit(ctx context.Context, job *entity.Job) error {
	if err := ctx.Err(); err != nil {
		return faults.New(constants.CodeSubmitFailed, constants.StageSubmit, err)
	}

	ch, err := a.channel()
	if err != nil {
		return faults.New(constants.CodeSubmitFailed, constants.StageSubmit, err)
	}

	body, err := json.Marshal(submitRequest{
		JobID:         job.ID.String(),
		SchemaID:      job.SchemaID,
		SchemaVersion: job.SchemaVersion,
		BlobID:        job.BlobID,
	})
	if err != nil {
		return faults.New(constants.CodeInternal, constants.StageSubmit, err)
	}

	externalID := "amqp-" + uuid.NewString()[:8]
	err = ch.Publish(
		"",      // exchange
		a.queue, // routing key
		false,   // mandatory
		false,   // immediate
		amqp.Publishing{
			Headers:      amqp.Table{"job_id": job.ID.String()},
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			MessageId:    externalID,
			Timestamp:    time.Now(),
		})
	if err != nil {
		a.reset()
		return faults.New(constants.CodeSubmitFailed, constants.StageSubmit, fmt.Errorf("publish: %w", err))
	}

	if _, err := a.jobs.Transition(ctx, job.ID, constants.JobStateQueued, constants.JobStateRunning,
		repository.TransitionMeta{ExternalJobID: externalID}); err != nil {
		return err
	}
	a.logger.Info("job published to broker", "job_id", job.ID, "external_job_id", externalID)
	return nil
}

// Close releases the broker connection.
func (a *AMQP) Close() {
	a.reset()
}
