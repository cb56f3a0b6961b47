// Copyright (C) 2026 Collabora Ltd. Licensed under LGPL-2.1 (https://www.gnu.org/licenses/lgpl-2.1.txt)

package errors

import (
	"errors"
	"testing"
)

func TestError(t *testing.T) {
	err := New(KindValidation, "invalid input")
	if err.Error() != "invalid input" {
		t.Errorf("expected 'invalid input', got '%s'", err.Error())
	}

	wrapped := Wrap(err, KindKernel, "failed to install")
	if wrapped.Error() != "failed to install: invalid input" {
		t.Errorf("expected 'failed to install: invalid input', got '%s'", wrapped.Error())
	}
}

func TestGetKind(t *testing.T) {
	err := New(KindValidation, "invalid input")
	if GetKind(err) != KindValidation {
		t.Errorf("expected KindValidation, got %v", GetKind(err))
	}

	wrapped := Wrap(err, KindKernel, "failed")
	if GetKind(wrapped) != KindKernel {
		t.Errorf("expected KindKernel, got %v", GetKind(wrapped))
	}

	if GetKind(errors.New("std error")) != KindUnknown {
		t.Errorf("expected KindUnknown, got %v", GetKind(errors.New("std error")))
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap(nil, KindInternal, "nope") != nil {
		t.Error("Wrap(nil) should be nil")
	}
	if Wrapf(nil, KindInternal, "nope %d", 1) != nil {
		t.Error("Wrapf(nil) should be nil")
	}
}

func TestUnwrapChain(t *testing.T) {
	inner := errors.New("inner")
	err := Wrap(inner, KindKernel, "outer")
	if !Is(err, inner) {
		t.Error("expected Is to find the inner error")
	}

	var e *Error
	if !As(err, &e) {
		t.Fatal("expected As to match *Error")
	}
	if e.Kind != KindKernel {
		t.Errorf("expected KindKernel, got %v", e.Kind)
	}
}

func TestKindString(t *testing.T) {
	kinds := map[Kind]string{
		KindUnknown:     "unknown",
		KindInternal:    "internal",
		KindValidation:  "validation",
		KindNotFound:    "not_found",
		KindConflict:    "conflict",
		KindUnavailable: "unavailable",
		KindKernel:      "kernel",
	}
	for k, want := range kinds {
		if k.String() != want {
			t.Errorf("Kind(%d).String() = %q; want %q", k, k.String(), want)
		}
	}
}
