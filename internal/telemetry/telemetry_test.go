package telemetry

import (
	"context"
	"testing"
)

func TestSetup_disabledIsNoop(t *testing.T) {
	for _, cfg := range []Config{
		{Enabled: false, Endpoint: "http://localhost:4318"},
		{Enabled: true},
	} {
		shutdown, err := Setup(context.Background(), cfg)
		if err != nil {
			t.Fatalf("Setup(%+v): %v", cfg, err)
		}
		if err := shutdown(context.Background()); err != nil {
			t.Errorf("shutdown: %v", err)
		}
	}
}
