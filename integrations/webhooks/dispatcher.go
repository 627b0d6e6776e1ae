package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"floorlend/core/events"
	"floorlend/core/types"
	"floorlend/observability"
	telemetry "floorlend/observability/otel"
)

const (
	EventHeader     = "X-Floord-Event"
	DeliveryHeader  = "X-Floord-Delivery"
	SignatureHeader = "X-Floord-Signature"

	defaultMaxAttempts = 5
	defaultMinBackoff  = 2 * time.Second
	defaultMaxBackoff  = 30 * time.Second
	defaultQueueSize   = 256
)

// Payload is the JSON body posted for each delivered event.
type Payload struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes,omitempty"`
	DeliveryID string            `json:"delivery_id"`
	EmittedAt  time.Time         `json:"emitted_at"`
}

// Dispatcher posts committed protocol events to a single endpoint with retry
// and exponential backoff. Emit never blocks the caller; events arriving while
// the queue is full are dropped and counted.
type Dispatcher struct {
	endpoint    string
	secret      []byte
	types       map[string]struct{}
	client      *http.Client
	logger      *slog.Logger
	tracer      trace.Tracer
	maxAttempts int
	minBackoff  time.Duration
	maxBackoff  time.Duration
	queueSize   int
	now         func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	queue  chan delivery
	wg     sync.WaitGroup
}

type delivery struct {
	eventType string
	id        string
	body      []byte
}

// Option mutates dispatcher configuration.
type Option func(*Dispatcher)

// WithHTTPClient overrides the HTTP client used for deliveries.
func WithHTTPClient(client *http.Client) Option {
	return func(d *Dispatcher) {
		if client != nil {
			d.client = client
		}
	}
}

// WithRetryPolicy overrides the retry configuration.
func WithRetryPolicy(maxAttempts int, minBackoff, maxBackoff time.Duration) Option {
	return func(d *Dispatcher) {
		if maxAttempts > 0 {
			d.maxAttempts = maxAttempts
		}
		if minBackoff > 0 {
			d.minBackoff = minBackoff
		}
		if maxBackoff >= minBackoff && maxBackoff > 0 {
			d.maxBackoff = maxBackoff
		}
	}
}

// WithEventTypes restricts delivery to the named event types. An empty list
// delivers everything.
func WithEventTypes(eventTypes ...string) Option {
	return func(d *Dispatcher) {
		for _, t := range eventTypes {
			if t = strings.TrimSpace(t); t != "" {
				d.types[t] = struct{}{}
			}
		}
	}
}

// WithLogger sets the delivery logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithTracer sets the tracer used for delivery spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(d *Dispatcher) {
		if tracer != nil {
			d.tracer = tracer
		}
	}
}

// WithQueueSize bounds the number of undelivered events held in memory.
func WithQueueSize(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.queueSize = n
		}
	}
}

// NewDispatcher constructs a dispatcher and spawns the worker goroutine.
func NewDispatcher(endpoint string, secret []byte, opts ...Option) (*Dispatcher, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, errors.New("webhook: endpoint required")
	}
	if len(secret) == 0 {
		return nil, errors.New("webhook: secret required")
	}
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		endpoint:    endpoint,
		secret:      append([]byte(nil), secret...),
		types:       make(map[string]struct{}),
		client:      &http.Client{Timeout: 15 * time.Second},
		logger:      slog.Default(),
		tracer:      telemetry.Tracer("floorlend/webhooks"),
		maxAttempts: defaultMaxAttempts,
		minBackoff:  defaultMinBackoff,
		maxBackoff:  defaultMaxBackoff,
		queueSize:   defaultQueueSize,
		now:         time.Now,
		ctx:         ctx,
		cancel:      cancel,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.queue = make(chan delivery, d.queueSize)
	d.wg.Add(1)
	go d.worker()
	return d, nil
}

// Close stops the dispatcher and waits for the inflight delivery to finish.
// Queued events are abandoned.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.cancel()
	d.wg.Wait()
}

// Emit implements events.Emitter.
func (d *Dispatcher) Emit(evt events.Event) {
	if d == nil || evt == nil {
		return
	}
	eventType := evt.EventType()
	if len(d.types) > 0 {
		if _, ok := d.types[eventType]; !ok {
			return
		}
	}
	payload := Payload{Type: eventType, DeliveryID: uuid.NewString(), EmittedAt: d.now().UTC()}
	if p, ok := evt.(interface{ Event() *types.Event }); ok && p.Event() != nil {
		payload.Attributes = p.Event().Attributes
	}
	if err := d.enqueue(payload); err != nil {
		observability.ModuleMetrics().RecordThrottle("webhook", "dropped")
		d.logger.Warn("webhook delivery dropped", "type", eventType, "delivery_id", payload.DeliveryID, "error", err)
	}
}

func (d *Dispatcher) enqueue(payload Payload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	select {
	case <-d.ctx.Done():
		return errors.New("webhook: dispatcher closed")
	default:
	}
	select {
	case d.queue <- delivery{eventType: payload.Type, id: payload.DeliveryID, body: data}:
		return nil
	default:
		return errors.New("webhook: queue full")
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for {
		select {
		case job := <-d.queue:
			d.process(job)
		case <-d.ctx.Done():
			return
		}
	}
}

func (d *Dispatcher) process(job delivery) {
	spanCtx, span := d.tracer.Start(d.ctx, "webhook.deliver", trace.WithAttributes(
		attribute.String("event.type", job.eventType),
		attribute.String("delivery.id", job.id),
	))
	defer span.End()

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = d.minBackoff
	policy.MaxInterval = d.maxBackoff
	policy.MaxElapsedTime = 0
	retry := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(d.maxAttempts-1)), d.ctx)

	attempts := 0
	err := backoff.Retry(func() error {
		attempts++
		ctx, cancel := spanCtx, context.CancelFunc(func() {})
		if d.client.Timeout > 0 {
			ctx, cancel = context.WithTimeout(spanCtx, d.client.Timeout)
		}
		defer cancel()
		return d.send(ctx, job)
	}, retry)
	span.SetAttributes(attribute.Int("delivery.attempts", attempts))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "delivery failed")
		d.logger.Error("webhook delivery failed",
			"type", job.eventType,
			"delivery_id", job.id,
			"attempts", attempts,
			"error", err)
		return
	}
	d.logger.Debug("webhook delivered", "type", job.eventType, "delivery_id", job.id, "attempts", attempts)
}

func (d *Dispatcher) send(ctx context.Context, job delivery) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(job.body))
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(EventHeader, job.eventType)
	req.Header.Set(DeliveryHeader, job.id)
	req.Header.Set(SignatureHeader, Sign(d.secret, job.body))
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))
	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests:
		return backoff.Permanent(fmt.Errorf("webhook: endpoint rejected delivery with status %d", resp.StatusCode))
	default:
		return fmt.Errorf("webhook: delivery failed with status %d", resp.StatusCode)
	}
}

// Sign returns the signature header value for body.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature matches body under secret.
func Verify(secret, body []byte, signature string) bool {
	return hmac.Equal([]byte(Sign(secret, body)), []byte(strings.TrimSpace(signature)))
}
