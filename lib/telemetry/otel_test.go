package telemetry

import (
	"context"
	"testing"
)

func TestInitWithoutEndpointIsNoop(t *testing.T) {
	providers, shutdown, err := Init(context.Background(), "", "")
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if providers.MeterProvider == nil {
		t.Fatalf("expected a meter provider")
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestParseEndpoint(t *testing.T) {
	host, insecure, err := parseEndpoint("http://collector:4318")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if host != "collector:4318" || !insecure {
		t.Fatalf("got host=%q insecure=%v", host, insecure)
	}

	host, insecure, err = parseEndpoint("https://collector:4318")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if host != "collector:4318" || insecure {
		t.Fatalf("https must be secure, got host=%q insecure=%v", host, insecure)
	}
}
