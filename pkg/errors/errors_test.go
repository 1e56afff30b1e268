package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestWrapMatchesDefinition(t *testing.T) {
	cause := fmt.Errorf("dial tcp: timeout")
	err := fmt.Errorf("send to 123: %w", DeliveryFailed.Wrap(cause))

	if !errors.Is(err, DeliveryFailed) {
		t.Fatalf("expected DeliveryFailed in chain: %v", err)
	}
	if errors.Is(err, NotConnected) {
		t.Fatalf("unexpected NotConnected match")
	}
	if !errors.Is(err, cause) {
		t.Fatalf("cause lost from chain")
	}

	def, ok := From(err)
	if !ok || def.Code != DeliveryFailed.Code {
		t.Fatalf("From = %+v, %v", def, ok)
	}
}

func TestBareDefinitionMatches(t *testing.T) {
	err := fmt.Errorf("connect: %w", ConnectionInProgress)
	if !errors.Is(err, ConnectionInProgress) {
		t.Fatalf("expected ConnectionInProgress")
	}
	def, ok := From(err)
	if !ok || def != ConnectionInProgress {
		t.Fatalf("From = %+v, %v", def, ok)
	}
	if _, ok := From(errors.New("plain")); ok {
		t.Fatalf("plain error should not resolve to a definition")
	}
}

func TestReasonTruncates(t *testing.T) {
	long := errors.New(strings.Repeat("é", 800))
	got := Reason(long)
	if n := len([]rune(got)); n != MaxReasonLength {
		t.Fatalf("reason length = %d, want %d", n, MaxReasonLength)
	}
	if Reason(nil) != "" {
		t.Fatalf("nil error should give empty reason")
	}
	if Reason(errors.New("short")) != "short" {
		t.Fatalf("short reason altered")
	}
}
