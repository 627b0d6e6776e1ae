package webhooks

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"floorlend/core/events"
	"floorlend/core/types"
)

func TestDispatcherSignsPayload(t *testing.T) {
	var (
		mu       sync.Mutex
		received []Payload
		verified bool
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = r.Body.Close()
		var payload Payload
		if err := json.Unmarshal(body, &payload); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		mu.Lock()
		received = append(received, payload)
		verified = Verify([]byte("secret"), body, r.Header.Get(SignatureHeader)) &&
			r.Header.Get(EventHeader) == payload.Type &&
			r.Header.Get(DeliveryHeader) == payload.DeliveryID
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	dispatcher, err := NewDispatcher(server.URL, []byte("secret"), WithEventTypes("lending.delinquent.marked"))
	if err != nil {
		t.Fatalf("dispatcher: %v", err)
	}
	defer dispatcher.Close()

	dispatcher.Emit(events.Wrap(&types.Event{Type: "pool.swapped"}))
	dispatcher.Emit(events.Wrap(&types.Event{
		Type:       "lending.delinquent.marked",
		Attributes: map[string]string{"account": "0xabc"},
	}))

	waitFor(func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) > 0
	}, time.Second)

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 {
		t.Fatalf("expected one filtered delivery, got %d", len(received))
	}
	if received[0].Type != "lending.delinquent.marked" || received[0].Attributes["account"] != "0xabc" {
		t.Fatalf("unexpected payload %+v", received[0])
	}
	if !verified {
		t.Fatalf("expected signed delivery headers")
	}
}

func TestDispatcherRetries(t *testing.T) {
	attempts := int32(0)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()
	dispatcher, err := NewDispatcher(server.URL, []byte("secret"), WithRetryPolicy(5, time.Millisecond*10, time.Millisecond*20))
	if err != nil {
		t.Fatalf("dispatcher: %v", err)
	}
	defer dispatcher.Close()
	dispatcher.Emit(events.Wrap(&types.Event{Type: "lending.recovered"}))
	waitFor(func() bool { return atomic.LoadInt32(&attempts) >= 3 }, time.Second)
	if atomic.LoadInt32(&attempts) < 3 {
		t.Fatalf("expected retries, got %d", attempts)
	}
}

func TestDispatcherStopsOnClientError(t *testing.T) {
	attempts := int32(0)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusGone)
	}))
	defer server.Close()
	dispatcher, err := NewDispatcher(server.URL, []byte("secret"), WithRetryPolicy(5, time.Millisecond*10, time.Millisecond*20))
	if err != nil {
		t.Fatalf("dispatcher: %v", err)
	}
	dispatcher.Emit(events.Wrap(&types.Event{Type: "lending.recovered"}))
	waitFor(func() bool { return atomic.LoadInt32(&attempts) >= 1 }, time.Second)
	time.Sleep(100 * time.Millisecond)
	dispatcher.Close()
	if got := atomic.LoadInt32(&attempts); got != 1 {
		t.Fatalf("expected a single attempt for a 410, got %d", got)
	}
}

func TestDispatcherTracesDeliveries(t *testing.T) {
	var traceparent atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceparent.Store(r.Header.Get("traceparent"))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	otel.SetTextMapPropagator(propagation.TraceContext{})
	exporter := tracetest.NewInMemoryExporter()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	defer func() { _ = provider.Shutdown(context.Background()) }()

	dispatcher, err := NewDispatcher(server.URL, []byte("secret"), WithTracer(provider.Tracer("test")))
	if err != nil {
		t.Fatalf("dispatcher: %v", err)
	}
	defer dispatcher.Close()
	dispatcher.Emit(events.Wrap(&types.Event{Type: "vault.written_off"}))

	waitFor(func() bool { return len(exporter.GetSpans()) > 0 }, time.Second)
	spans := exporter.GetSpans()
	if len(spans) != 1 || spans[0].Name != "webhook.deliver" {
		t.Fatalf("expected one delivery span, got %+v", spans)
	}
	header, _ := traceparent.Load().(string)
	if !strings.Contains(header, spans[0].SpanContext.TraceID().String()) {
		t.Fatalf("expected trace context %q to carry trace %s", header, spans[0].SpanContext.TraceID())
	}
}

func TestNewDispatcherValidates(t *testing.T) {
	if _, err := NewDispatcher("", []byte("secret")); err == nil {
		t.Fatalf("expected missing endpoint to fail")
	}
	if _, err := NewDispatcher("http://localhost", nil); err == nil {
		t.Fatalf("expected missing secret to fail")
	}
}

func waitFor(cond func() bool, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond * 10)
	}
}
