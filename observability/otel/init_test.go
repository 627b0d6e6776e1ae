package otel

import (
	"context"
	"strings"
	"testing"
)

func TestParseHeaders(t *testing.T) {
	got := ParseHeaders(" x-api-key = abc , broken, =skip,tenant=floor ")
	if len(got) != 2 || got["x-api-key"] != "abc" || got["tenant"] != "floor" {
		t.Fatalf("unexpected headers: %v", got)
	}
}

func TestInitRequiresServiceName(t *testing.T) {
	if _, err := Init(context.Background(), Config{}); err == nil {
		t.Fatalf("expected error without service name")
	}
}

func TestInitDisabledIsNoop(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{ServiceName: "floord"})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestSamplerDescription(t *testing.T) {
	if desc := Sampler(0).Description(); !strings.Contains(desc, "AlwaysOnSampler") {
		t.Fatalf("unexpected sampler %q", desc)
	}
	if desc := Sampler(0.25).Description(); !strings.Contains(desc, "TraceIDRatioBased") {
		t.Fatalf("unexpected sampler %q", desc)
	}
}
