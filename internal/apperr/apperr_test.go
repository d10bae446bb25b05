package apperr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/keithlinneman/linnemanlabs-admin/internal/xerrors"
)

func TestKind_HTTPStatus(t *testing.T) {
	want := map[Kind]int{
		KindInvalidRequest:     http.StatusBadRequest,
		KindRequiredField:      http.StatusBadRequest,
		KindValidation:         http.StatusBadRequest,
		KindUnauthorized:       http.StatusUnauthorized,
		KindForbidden:          http.StatusForbidden,
		KindNotFound:           http.StatusNotFound,
		KindConflict:           http.StatusConflict,
		KindRateLimitExceeded:  http.StatusTooManyRequests,
		KindTemporarilyBlocked: http.StatusTooManyRequests,
		KindInternal:           http.StatusInternalServerError,
	}
	for _, k := range Kinds() {
		if got := k.HTTPStatus(); got != want[k] {
			t.Errorf("%s.HTTPStatus() = %d, want %d", k, got, want[k])
		}
	}
	if len(want) != len(Kinds()) {
		t.Fatalf("Kinds() has %d entries, table has %d", len(Kinds()), len(want))
	}
	if got := Kind("SOMETHING_ELSE").HTTPStatus(); got != http.StatusInternalServerError {
		t.Fatalf("unknown kind status = %d, want 500", got)
	}
}

func TestFrom_TaggedThroughWrapping(t *testing.T) {
	tagged := NotFound("X not found")
	err := xerrors.Wrap(fmt.Errorf("lookup: %w", tagged), "handler")

	got := From(err)
	if got != tagged {
		t.Fatalf("From returned %v, want the tagged error", got)
	}
	if got.Status() != http.StatusNotFound {
		t.Fatalf("status = %d", got.Status())
	}
}

func TestFrom_Untagged(t *testing.T) {
	cause := errors.New("db exploded")
	got := From(cause)
	if got.Kind != KindInternal {
		t.Fatalf("kind = %s, want INTERNAL_SERVER_ERROR", got.Kind)
	}
	if got.Message != InternalMessage {
		t.Fatalf("message = %q", got.Message)
	}
	if !errors.Is(got, cause) {
		t.Fatal("internal error should keep the cause for logging")
	}
	if From(nil) != nil {
		t.Fatal("From(nil) should be nil")
	}
}

func TestBody_Shape(t *testing.T) {
	b, err := json.Marshal(NotFound("X not found").Body())
	if err != nil {
		t.Fatal(err)
	}
	if want := `{"code":"NOT_FOUND","message":"X not found"}`; string(b) != want {
		t.Fatalf("body = %s, want %s", b, want)
	}

	b, _ = json.Marshal(Blocked("blocked", 29500*time.Millisecond).WithDetails("cooldown").Body())
	if want := `{"code":"TEMPORARILY_BLOCKED","message":"blocked","retryAfter":30,"details":"cooldown"}`; string(b) != want {
		t.Fatalf("body = %s, want %s", b, want)
	}

	b, _ = json.Marshal(Required("key").Body())
	if want := `{"code":"REQUIRED_FIELD_ERROR","message":"key is required","field":"key"}`; string(b) != want {
		t.Fatalf("body = %s, want %s", b, want)
	}
}

func TestInternal_CauseNotExposed(t *testing.T) {
	e := Internal(errors.New("password=hunter2"))
	b, _ := json.Marshal(e.Body())
	if want := `{"code":"INTERNAL_SERVER_ERROR","message":"An error occurred while processing your request"}`; string(b) != want {
		t.Fatalf("body = %s", b)
	}
}

func TestIs(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", Conflict("dup"))
	if !Is(err, KindConflict) {
		t.Fatal("Is should match the conflict kind")
	}
	if Is(err, KindNotFound) {
		t.Fatal("Is should not match a different kind")
	}
	if Is(errors.New("x"), KindInternal) {
		t.Fatal("untagged errors carry no kind")
	}
}
