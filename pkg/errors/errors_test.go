package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"
)

func TestMetadataForKnownAndUnknownCodes(t *testing.T) {
	meta := MetadataFor(CodeStateConflict)
	if meta.HTTPStatus != http.StatusUnprocessableEntity {
		t.Fatalf("unexpected status %d", meta.HTTPStatus)
	}
	fallback := MetadataFor(Code("SOMETHING_ELSE"))
	if fallback.HTTPStatus != http.StatusInternalServerError {
		t.Fatalf("expected internal fallback, got %d", fallback.HTTPStatus)
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := stdErrors.New("row not found")
	err := Wrap(CodeNotFound, cause, "loan missing")
	if !stdErrors.Is(err, cause) {
		t.Fatal("expected wrapped cause to match")
	}
	typed := As(fmt.Errorf("outer: %w", err))
	if typed == nil || typed.Code() != CodeNotFound {
		t.Fatalf("expected typed NOT_FOUND, got %v", typed)
	}
}

func TestSentinelMatchingThroughWrapping(t *testing.T) {
	sentinel := New(CodeConflict, "liquidation already exists")
	wrapped := fmt.Errorf("initiate: %w", sentinel)
	if !stdErrors.Is(wrapped, sentinel) {
		t.Fatal("expected sentinel to match wrapped error")
	}
	if !HasCode(wrapped, CodeConflict) {
		t.Fatal("expected HasCode to report CONFLICT")
	}
	if HasCode(wrapped, CodeNotFound) {
		t.Fatal("did not expect NOT_FOUND")
	}
}

func TestDetailsRoundTrip(t *testing.T) {
	err := New(CodeValidation, "bad input").WithDetails(map[string]string{"field": "amount"})
	details, ok := err.Details().(map[string]string)
	if !ok || details["field"] != "amount" {
		t.Fatalf("unexpected details: %v", err.Details())
	}
}
