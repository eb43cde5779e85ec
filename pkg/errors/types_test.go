package errors

import (
	stderrors "errors"
	"strings"
	"testing"
)

func TestNewError(t *testing.T) {
	err := New(ErrCodeUnauthenticated, "no token presented")

	if err.Code != ErrCodeUnauthenticated {
		t.Errorf("expected code %s, got %s", ErrCodeUnauthenticated, err.Code)
	}
	if !strings.Contains(err.Error(), "UNAUTHENTICATED") {
		t.Errorf("error string missing code: %s", err.Error())
	}
	if !strings.Contains(err.Error(), "no token presented") {
		t.Errorf("error string missing message: %s", err.Error())
	}
}

func TestWrap(t *testing.T) {
	underlying := stderrors.New("connection refused")
	err := Wrap(underlying, ErrCodeStoreUnavailable, "session store unreachable")

	if !stderrors.Is(err, underlying) {
		t.Error("wrapped error should match underlying via errors.Is")
	}
	if !strings.Contains(err.Error(), "connection refused") {
		t.Errorf("error string missing underlying: %s", err.Error())
	}
}

func TestWrapNil(t *testing.T) {
	if err := Wrap(nil, ErrCodeInternal, "should be nil"); err != nil {
		t.Errorf("wrapping nil should return nil, got %v", err)
	}
}

func TestWithContext(t *testing.T) {
	err := New(ErrCodeFileNotFound, "missing path").WithContext("path", "src/app.js")

	if err.Context["path"] != "src/app.js" {
		t.Errorf("context not recorded: %v", err.Context)
	}
	if !strings.Contains(err.Error(), "src/app.js") {
		t.Errorf("error string missing context: %s", err.Error())
	}
}

func TestIsCode(t *testing.T) {
	err := New(ErrCodeTokenRevoked, "blacklisted")

	if !IsCode(err, ErrCodeTokenRevoked) {
		t.Error("IsCode should match")
	}
	if IsCode(err, ErrCodeTokenExpired) {
		t.Error("IsCode should not match different code")
	}
	if IsCode(stderrors.New("plain"), ErrCodeTokenRevoked) {
		t.Error("IsCode should not match plain errors")
	}
	if IsCode(nil, ErrCodeTokenRevoked) {
		t.Error("IsCode should not match nil")
	}
}

func TestGetCode(t *testing.T) {
	if got := GetCode(New(ErrCodeRunFailed, "boom")); got != ErrCodeRunFailed {
		t.Errorf("expected RUN_FAILED, got %s", got)
	}
	if got := GetCode(stderrors.New("plain")); got != ErrCodeInternal {
		t.Errorf("plain error should map to INTERNAL, got %s", got)
	}
	if got := GetCode(nil); got != "" {
		t.Errorf("nil should map to empty code, got %s", got)
	}
}
