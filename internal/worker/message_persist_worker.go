package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"tinyagent/internal/app"
	"tinyagent/internal/model"
	"tinyagent/internal/platform/rabbitmq"
)

// Appender applies one queued append to its session.
type Appender interface {
	ApplyAppendJob(ctx context.Context, job model.AppendJob) (*model.Session, error)
}

var errMalformedJob = errors.New("malformed append job")

// acknowledger is the part of amqp.Delivery the worker settles deliveries with.
type acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

// MessagePersistWorker drains the append queue. A delivery is acked once its
// append committed. Jobs that can never apply are dropped; anything else is
// requeued so a finished completion is not lost to a transient failure.
type MessagePersistWorker struct {
	conn      *amqp.Connection
	appender  Appender
	queueName string
	logger    *zap.Logger

	// requeueDelay slows redelivery while the store is failing.
	requeueDelay time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewMessagePersistWorker(conn *amqp.Connection, appender Appender, queueName string, logger *zap.Logger) *MessagePersistWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MessagePersistWorker{
		conn:         conn,
		appender:     appender,
		queueName:    queueName,
		logger:       logger.Named("persist_worker"),
		requeueDelay: time.Second,
	}
}

func (w *MessagePersistWorker) Start(ctx context.Context) error {
	if w.cancel != nil {
		return nil
	}

	workerCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	ch, err := w.conn.Channel()
	if err != nil {
		cancel()
		return fmt.Errorf("open worker channel failed: %w", err)
	}
	if err := rabbitmq.DeclareQueue(ch, w.queueName); err != nil {
		_ = ch.Close()
		cancel()
		return err
	}

	deliveries, err := ch.Consume(
		w.queueName,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("consume queue failed: %w", err)
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer ch.Close()

		for {
			select {
			case <-workerCtx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					w.logger.Warn("delivery channel closed")
					return
				}
				// a job already taken off the queue runs to the end even
				// when Close is called meanwhile
				if requeued := w.handle(context.WithoutCancel(workerCtx), d.Body, &d); requeued {
					w.pause(workerCtx)
				}
			}
		}
	}()

	w.logger.Info("persist worker started", zap.String("queue", w.queueName))
	return nil
}

// handle settles one delivery and reports whether it was requeued.
func (w *MessagePersistWorker) handle(ctx context.Context, body []byte, ack acknowledger) bool {
	err := w.process(ctx, body)
	if err == nil {
		_ = ack.Ack(false)
		return false
	}

	requeue := !permanent(err)
	w.logger.Error("persist append job failed", zap.Bool("requeue", requeue), zap.Error(err))
	_ = ack.Nack(false, requeue)
	return requeue
}

func (w *MessagePersistWorker) pause(ctx context.Context) {
	if w.requeueDelay <= 0 {
		return
	}
	timer := time.NewTimer(w.requeueDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// permanent reports whether retrying the job can never succeed.
func permanent(err error) bool {
	return errors.Is(err, errMalformedJob) ||
		errors.Is(err, app.ErrSessionNotFound) ||
		errors.Is(err, app.ErrInvalidInput)
}

func (w *MessagePersistWorker) process(ctx context.Context, body []byte) error {
	var job model.AppendJob
	if err := json.Unmarshal(body, &job); err != nil {
		return fmt.Errorf("%w: %v", errMalformedJob, err)
	}
	if job.SessionID == 0 || job.UserID == 0 {
		return errMalformedJob
	}

	session, err := w.appender.ApplyAppendJob(ctx, job)
	if err != nil {
		return fmt.Errorf("append to session %d: %w", job.SessionID, err)
	}
	w.logger.Debug("append job applied",
		zap.Uint("session_id", session.ID),
		zap.Int("message_count", session.MessageCount))
	return nil
}

func (w *MessagePersistWorker) Close() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}
