package providers

import (
	"testing"

	"github.com/lattiq/dispatch/internal/core"
)

func TestNewMock(t *testing.T) {
	p, err := New("mock", core.ProviderSettings{"name": "local"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.Name() != "local" {
		t.Fatalf("unexpected name %q", p.Name())
	}
}

func TestNewNilSettings(t *testing.T) {
	if _, err := New("mock", nil); err != nil {
		t.Fatalf("New with nil settings: %v", err)
	}
}

func TestNewUnsupported(t *testing.T) {
	if _, err := New("carrier_pigeon", nil); err == nil {
		t.Fatal("expected error for unsupported type")
	}
	if Supported("carrier_pigeon") {
		t.Fatal("carrier_pigeon must not be supported")
	}
}

func TestTypes(t *testing.T) {
	want := []string{"aws_ses", "mailgun", "mock", "sendgrid", "smtp"}
	got := Types()
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}
