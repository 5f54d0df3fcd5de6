package service

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"aprsrelay/internal/bus"
	"aprsrelay/internal/constants"
	"aprsrelay/internal/decay"
	apperrors "aprsrelay/internal/errors"
	"aprsrelay/internal/metrics"
	"aprsrelay/internal/retry"
	"aprsrelay/internal/tracing"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// WorkerState is the connection state of a worker
type WorkerState int

const (
	StateDisconnected WorkerState = iota
	StateConnected
)

func (s WorkerState) String() string {
	if s == StateConnected {
		return "connected"
	}
	return "disconnected"
}

// WorkerStatus is a point in time view of a worker for the admin endpoint
type WorkerStatus struct {
	ID          int           `json:"id"`
	State       string        `json:"state"`
	ConnectedTo string        `json:"connected_to,omitempty"`
	DecaySize   int           `json:"decay_size"`
	Decay       []decay.Entry `json:"decay,omitempty"`
}

type workerStats struct {
	framesIn     int64
	connects     int64
	disconnects  int64
	decayRetries int64
	packets      int64
}

type workerOptions struct {
	now func() time.Time
}

// WorkerOption customizes a worker
type WorkerOption func(*workerOptions)

// WithWorkerClock replaces the clock of the worker and everything it owns
func WithWorkerClock(now func() time.Time) WorkerOption {
	return func(o *workerOptions) {
		o.now = now
	}
}

// Worker is one relay event loop. It owns its bus transport and decay
// queue; the store and cache are shared with the other workers.
type Worker struct {
	id         int
	settings   Settings
	transport  bus.Transport
	decay      *decay.Queue
	publisher  *Publisher
	classifier *Classifier
	drainer    *Drainer
	logger     logrus.FieldLogger
	metrics    *metrics.Registry
	now        func() time.Time
	reconnect  *retry.Sequence

	state     WorkerState
	lastDrain time.Time
	lastStats time.Time
	stats     workerStats

	mu            sync.Mutex
	decaySnapshot []decay.Entry
	publicState   WorkerState
}

// NewWorker wires a worker around transport
func NewWorker(id int, settings Settings, store Store, cache Cache, transport bus.Transport, logger logrus.FieldLogger, registry *metrics.Registry, opts ...WorkerOption) *Worker {
	o := workerOptions{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	logger = logger.WithField(LogFieldWorker, id)
	queue := decay.NewQueue(logger, decay.WithClock(o.now))
	publisher := NewPublisher(transport, settings, logger, registry)
	publisher.now = o.now
	classifier := NewClassifier(settings, store, cache, queue, publisher, logger, registry)
	classifier.now = o.now
	drainer := NewDrainer(settings, store, cache, queue, publisher, logger, registry)
	drainer.now = o.now

	return &Worker{
		id:         id,
		settings:   settings,
		transport:  transport,
		decay:      queue,
		publisher:  publisher,
		classifier: classifier,
		drainer:    drainer,
		logger:     logger,
		metrics:    registry,
		now:        o.now,
		reconnect:  retry.NewSequence(settings.Reconnect),
		lastStats:  o.now(),
	}
}

// ID returns the worker number
func (w *Worker) ID() int {
	return w.id
}

// Run loops until ctx is cancelled. An iteration that did no work is
// followed by the idle back-off, a failed connect by the reconnect
// back-off. The decay queue is cleared on exit.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("Worker started")
	defer func() {
		dropped := w.decay.Clear()
		w.publishState()
		w.logger.WithField(LogFieldCount, dropped).Info("Worker stopped, decay queue cleared")
	}()

	for ctx.Err() == nil {
		if w.RunOnce(ctx) {
			continue
		}

		delay := w.settings.IdleBackoff
		if w.state == StateDisconnected {
			delay = w.reconnect.Next()
		}
		if err := retry.Sleep(ctx, delay); err != nil {
			return
		}
	}
}

// RunOnce runs a single iteration and reports whether it did work
func (w *Worker) RunOnce(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}

	if w.state == StateDisconnected && !w.connect(ctx) {
		return false
	}

	w.housekeeping()

	if w.now().Sub(w.lastDrain) >= w.settings.DrainInterval {
		w.drain(ctx)
		w.lastDrain = w.now()
	}

	frame, ok, err := w.transport.NextFrame(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		apperrors.Entry(w.logger, err).Warn("Lost bus connection")
		w.setState(StateDisconnected)
		w.stats.disconnects++
		w.metrics.IncrementCounter("disconnects", w.labels(), "Bus disconnects")
		return false
	}
	if !ok {
		return false
	}

	w.stats.framesIn++
	w.metrics.IncrementCounter("frames_in", w.labels(), "Frames received from the bus")

	messageID := frame.Header(bus.HeaderMessageID)
	if frame.Command != bus.CommandMessage || messageID == "" {
		return true
	}

	w.processFrame(ctx, frame)

	if err := w.transport.Ack(ctx, messageID, constants.DefaultSubscriptionID); err != nil {
		apperrors.Entry(w.logger, err).WithField(LogFieldMessageID, messageID).Warn("Failed to ack frame")
	}
	return true
}

func (w *Worker) connect(ctx context.Context) bool {
	w.stats.connects++
	err := w.transport.Subscribe(ctx, w.settings.NotifyTopic, constants.DefaultSubscriptionID)
	if err != nil {
		w.metrics.IncrementCounter("connects", map[string]string{"worker": strconv.Itoa(w.id), "result": "failed"}, "Bus connect attempts")
		apperrors.Entry(w.logger, err).WithField(LogFieldAttempt, w.reconnect.Attempt()+1).Warn("Failed to connect to bus")
		return false
	}

	w.metrics.IncrementCounter("connects", map[string]string{"worker": strconv.Itoa(w.id), "result": "ok"}, "Bus connect attempts")
	w.reconnect.Reset()
	w.setState(StateConnected)
	w.logger.WithField("destination", w.settings.NotifyTopic).Info("Connected to bus")
	return true
}

func (w *Worker) processFrame(ctx context.Context, frame *bus.Frame) {
	ctx = tracing.WithRequestID(ctx, tracing.NewRequestID())
	ctx = tracing.WithStartTime(ctx, time.Now())
	ctx, span := tracing.StartSpan(ctx, "worker.process_frame",
		attribute.Int("worker", w.id),
		attribute.String("message_id", frame.Header(bus.HeaderMessageID)),
	)
	defer span.End()

	logger := LogWithContext(ctx, w.logger)
	defer func() {
		if r := recover(); r != nil {
			w.metrics.IncrementCounter("frame_panics", w.labels(), "Panics recovered while classifying a frame")
			tracing.RecordError(ctx, fmt.Errorf("panic: %v", r))
			logger.WithField("panic", r).Error("Recovered panic while processing frame")
		}
		w.publishState()
	}()

	logger.WithField("body", frame.Body).Debug("Received message")

	ev, ok := ParseEvent(frame.Body, w.settings.Callsign)
	if !ok {
		return
	}

	rules := w.classifier.Classify(ctx, ev)
	tracing.AddSpanAttributes(ctx, attribute.String("rules", rules.String()))
	tracing.SetSpanStatus(ctx, codes.Ok, "")
	logger.WithFields(logrus.Fields{
		LogFieldSource:   ev.Source,
		LogFieldTarget:   ev.Target,
		LogFieldRules:    rules.String(),
		LogFieldDuration: tracing.Duration(ctx).Milliseconds(),
	}).Debug("Classified message")
}

func (w *Worker) drain(ctx context.Context) {
	start := time.Now()
	ctx, span := tracing.StartSpan(ctx, "worker.drain", attribute.Int("worker", w.id))
	defer span.End()

	payloads := w.decay.Tick()
	for _, pkt := range payloads {
		w.publisher.Push(ctx, pkt)
	}
	w.stats.decayRetries += int64(len(payloads))
	if len(payloads) > 0 {
		w.metrics.AddToCounter("decay_retries", float64(len(payloads)), w.labels(), "Decay re-broadcasts")
	}

	created := w.drainer.DrainAll(ctx)
	w.stats.packets += int64(created)

	tracing.AddSpanAttributes(ctx,
		attribute.Int("decay.retries", len(payloads)),
		attribute.Int("packets.created", created),
	)
	w.metrics.RecordTimer("drain_duration", time.Since(start), nil, "Drain pass duration")
	w.metrics.SetGauge("decay_queue_size", float64(w.decay.Size()), w.labels(), "Entries waiting in the decay queue")
	w.publishState()
}

// housekeeping logs and resets the per-interval stats
func (w *Worker) housekeeping() {
	now := w.now()
	if now.Sub(w.lastStats) < w.settings.StatsInterval {
		return
	}

	w.logger.WithFields(logrus.Fields{
		"frames_in":     w.stats.framesIn,
		"frames_out":    w.publisher.TakePublished(),
		"connects":      w.stats.connects,
		"disconnects":   w.stats.disconnects,
		"decay_retries": w.stats.decayRetries,
		"decay_size":    w.decay.Size(),
		"packets":       w.stats.packets,
		"interval_sec":  int(now.Sub(w.lastStats).Seconds()),
	}).Info("Stats")

	w.stats = workerStats{}
	w.lastStats = now
}

func (w *Worker) setState(state WorkerState) {
	w.state = state
	w.mu.Lock()
	w.publicState = state
	w.mu.Unlock()
}

// publishState copies the decay queue for concurrent readers
func (w *Worker) publishState() {
	snapshot := w.decay.Snapshot()
	w.mu.Lock()
	w.decaySnapshot = snapshot
	w.mu.Unlock()
}

// Status returns the last published state of the worker. Safe to call
// from any goroutine.
func (w *Worker) Status() WorkerStatus {
	w.mu.Lock()
	defer w.mu.Unlock()

	status := WorkerStatus{
		ID:        w.id,
		State:     w.publicState.String(),
		DecaySize: len(w.decaySnapshot),
		Decay:     append([]decay.Entry(nil), w.decaySnapshot...),
	}
	if w.publicState == StateConnected {
		status.ConnectedTo = w.transport.ConnectedTo()
	}
	return status
}

// State returns the connection state seen by the loop
func (w *Worker) State() WorkerState {
	return w.state
}

// DecaySize returns the number of entries in the decay queue. Only the
// goroutine running the worker may call it.
func (w *Worker) DecaySize() int {
	return w.decay.Size()
}

func (w *Worker) labels() map[string]string {
	return map[string]string{"worker": strconv.Itoa(w.id)}
}
