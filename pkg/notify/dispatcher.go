package notify

import (
	"context"
	"sync"
	"time"

	"github.com/cuemby/pipewatch/pkg/insights"
	"github.com/cuemby/pipewatch/pkg/log"
	"github.com/cuemby/pipewatch/pkg/metrics"
	"github.com/cuemby/pipewatch/pkg/types"
	"github.com/rs/zerolog"
)

const (
	// DefaultQueueSize is the number of messages buffered before new ones are dropped
	DefaultQueueSize = 100
	// DefaultSendTimeout bounds a single channel delivery
	DefaultSendTimeout = 30 * time.Second
)

// Notification results recorded in pipewatch_notifications_total
const (
	resultSent    = "sent"
	resultError   = "error"
	resultDropped = "dropped"
)

// Options configures a Dispatcher
type Options struct {
	QueueSize   int
	SendTimeout time.Duration
}

// Dispatcher fans build notifications out to every configured channel from a
// single background worker. Callers never block and never see delivery errors.
type Dispatcher struct {
	channels    []Channel
	queue       chan *Message
	sendTimeout time.Duration
	logger      zerolog.Logger

	mu       sync.RWMutex
	closed   bool
	wg       sync.WaitGroup
	startOne sync.Once
}

// NewDispatcher creates a dispatcher over the given channels
func NewDispatcher(opts Options, channels ...Channel) *Dispatcher {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = DefaultSendTimeout
	}
	return &Dispatcher{
		channels:    channels,
		queue:       make(chan *Message, opts.QueueSize),
		sendTimeout: opts.SendTimeout,
		logger:      log.WithComponent("notifier"),
	}
}

// Channels returns the names of the configured channels
func (d *Dispatcher) Channels() []string {
	names := make([]string, 0, len(d.channels))
	for _, c := range d.channels {
		names = append(names, c.Name())
	}
	return names
}

// Start launches the delivery worker
func (d *Dispatcher) Start() {
	d.startOne.Do(func() {
		d.wg.Add(1)
		go d.run()
		metrics.RegisterComponent(metrics.ComponentNotifier, true, "")
	})
}

// Close stops accepting messages, delivers what is queued and waits for the worker
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	d.Start()
	d.wg.Wait()
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for msg := range d.queue {
		d.deliver(msg)
	}
}

func (d *Dispatcher) deliver(msg *Message) {
	for _, ch := range d.channels {
		ctx, cancel := context.WithTimeout(context.Background(), d.sendTimeout)
		err := ch.Send(ctx, msg)
		cancel()

		if err != nil {
			metrics.NotificationsTotal.WithLabelValues(ch.Name(), resultError).Inc()
			metrics.UpdateComponent(metrics.ComponentNotifier, false, err.Error())
			d.logger.Error().
				Err(err).
				Str("channel", ch.Name()).
				Str("pipeline", msg.Pipeline).
				Int64("build_number", msg.Build).
				Str("kind", string(msg.Kind)).
				Msg("Failed to send notification")
			continue
		}

		metrics.NotificationsTotal.WithLabelValues(ch.Name(), resultSent).Inc()
		metrics.UpdateComponent(metrics.ComponentNotifier, true, "")
		d.logger.Info().
			Str("channel", ch.Name()).
			Str("pipeline", msg.Pipeline).
			Int64("build_number", msg.Build).
			Str("kind", string(msg.Kind)).
			Msg("Notification sent")
	}
}

// Enqueue queues a message for delivery. It returns false when the message
// was dropped because the queue is full or the dispatcher is closed.
func (d *Dispatcher) Enqueue(msg *Message) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.logger.Warn().Str("subject", msg.Subject).Msg("Dispatcher closed, dropping notification")
		return false
	}
	if len(d.channels) == 0 {
		return false
	}

	select {
	case d.queue <- msg:
		return true
	default:
		metrics.NotificationsTotal.WithLabelValues("queue", resultDropped).Inc()
		d.logger.Warn().
			Str("pipeline", msg.Pipeline).
			Int64("build_number", msg.Build).
			Int("queue_size", cap(d.queue)).
			Msg("Notification queue full, dropping notification")
		return false
	}
}

// NotifyBuildSuccess announces a newly observed successful build
func (d *Dispatcher) NotifyBuildSuccess(ctx context.Context, build *types.Build) {
	msg, err := NewSuccessMessage(build)
	if err != nil {
		d.logger.Error().Err(err).Str("build", build.Key().String()).Msg("Failed to render notification")
		return
	}
	d.Enqueue(msg)
}

// NotifyBuildFailure announces a newly observed failed build with remediation
// advice derived from the pipeline's rolling statistics
func (d *Dispatcher) NotifyBuildFailure(ctx context.Context, build *types.Build, snapshot *types.Snapshot, recentFailures []*types.Build) {
	advice := insights.GenerateAdvice(snapshot, recentFailures)
	msg, err := NewFailureMessage(build, snapshot, advice)
	if err != nil {
		d.logger.Error().Err(err).Str("build", build.Key().String()).Msg("Failed to render notification")
		return
	}
	d.Enqueue(msg)
}

// NotifyBuildRecovered announces a failed build that was re-observed as successful
func (d *Dispatcher) NotifyBuildRecovered(ctx context.Context, build *types.Build) {
	msg, err := NewRecoveredMessage(build)
	if err != nil {
		d.logger.Error().Err(err).Str("build", build.Key().String()).Msg("Failed to render notification")
		return
	}
	d.Enqueue(msg)
}
