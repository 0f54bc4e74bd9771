package metrics

import (
	"testing"

	"go.opentelemetry.io/otel/attribute"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("scope", "agency:123"),
		attribute.String("contract_id", "456"),
		attribute.String("charge_type", "RENT"),
	)
	if len(attrs) != 2 {
		t.Fatalf("expected 2 attributes, got %d", len(attrs))
	}
	if attrs[0].Key != "scope" && attrs[1].Key != "scope" {
		t.Fatalf("expected scope to be retained")
	}
	if attrs[0].Key != "charge_type" && attrs[1].Key != "charge_type" {
		t.Fatalf("expected charge_type to be retained")
	}
}
