package otel

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

func TestParseHeaders(t *testing.T) {
	got := ParseHeaders(" api-key = abc ,broken, =skip,tenant=ledger")
	if len(got) != 2 || got["api-key"] != "abc" || got["tenant"] != "ledger" {
		t.Fatalf("unexpected headers %v", got)
	}
}

func TestInitRequiresServiceName(t *testing.T) {
	if _, err := Init(context.Background(), Config{}); err == nil {
		t.Fatalf("expected error without service name")
	}
}

func TestInitWithoutExporters(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{ServiceName: "ledgerd"})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	_, span := Tracer().Start(context.Background(), "ledger.test")
	span.End()
}

func TestSamplerBounds(t *testing.T) {
	for _, ratio := range []float64{-1, 0, 0.25, 1, 2} {
		if sampler(ratio) == nil {
			t.Fatalf("nil sampler for %v", ratio)
		}
	}
}

func TestResourceAttributesDescribeLedger(t *testing.T) {
	attrs := resourceAttributes(Config{
		ServiceName: "ledgerd",
		Environment: "staging",
		Ledger: LedgerInfo{
			Owner:           "0x00000000000000000000000000000000000000F0",
			CollateralMode:  "both",
			OracleReference: "manual",
			Store:           " ",
		},
	})
	got := make(map[attribute.Key]string, len(attrs))
	for _, kv := range attrs {
		got[kv.Key] = kv.Value.AsString()
	}
	want := map[attribute.Key]string{
		semconv.ServiceNameKey:           "ledgerd",
		semconv.DeploymentEnvironmentKey: "staging",
		LedgerOwnerKey:                   "0x00000000000000000000000000000000000000f0",
		LedgerCollateralModeKey:          "both",
		LedgerOracleKey:                  "manual",
	}
	if len(got) != len(want) {
		t.Fatalf("unexpected attributes %v", got)
	}
	for key, value := range want {
		if got[key] != value {
			t.Fatalf("attribute %s = %q, want %q", key, got[key], value)
		}
	}
}

func TestResourceAttributesSkipEmptyLedgerFields(t *testing.T) {
	attrs := resourceAttributes(Config{ServiceName: "ledgerd"})
	if len(attrs) != 1 || attrs[0].Key != semconv.ServiceNameKey {
		t.Fatalf("unexpected attributes %v", attrs)
	}
}

