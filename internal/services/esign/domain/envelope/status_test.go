package envelope

import (
	"testing"

	apperrors "github.com/inkform/inkform/internal/platform/errors"
)

func TestAssertTransitionTable(t *testing.T) {
	tests := []struct {
		from Status
		to   Status
		want bool
	}{
		{StatusDraft, StatusSent, true},
		{StatusDraft, StatusCanceled, true},
		{StatusSent, StatusInProgress, true},
		{StatusSent, StatusCompleted, true},
		{StatusSent, StatusDeclined, true},
		{StatusSent, StatusCanceled, true},
		{StatusInProgress, StatusCompleted, true},
		{StatusInProgress, StatusDeclined, true},
		{StatusInProgress, StatusCanceled, true},

		{StatusDraft, StatusInProgress, false},
		{StatusDraft, StatusCompleted, false},
		{StatusDraft, StatusDeclined, false},
		{StatusSent, StatusDraft, false},
		{StatusInProgress, StatusSent, false},
		{StatusCompleted, StatusCanceled, false},
		{StatusCompleted, StatusInProgress, false},
		{StatusCanceled, StatusSent, false},
		{StatusDeclined, StatusInProgress, false},
		{StatusUnspecified, StatusSent, false},
	}
	for _, tt := range tests {
		err := AssertTransition(tt.from, tt.to)
		if tt.want {
			if err != nil {
				t.Fatalf("AssertTransition(%s, %s) error = %v, want nil", tt.from, tt.to, err)
			}
			continue
		}
		if apperrors.GetCode(err) != apperrors.CodeEnvelopeInvalidStatusTransition {
			t.Fatalf("AssertTransition(%s, %s) error code = %s, want %s",
				tt.from, tt.to, apperrors.GetCode(err), apperrors.CodeEnvelopeInvalidStatusTransition)
		}
	}
}

func TestIsSigningActive(t *testing.T) {
	active := []Status{StatusSent, StatusInProgress}
	for _, s := range active {
		if !IsSigningActive(s) {
			t.Fatalf("expected %s to be signing-active", s)
		}
	}
	inactive := []Status{StatusUnspecified, StatusDraft, StatusCompleted, StatusCanceled, StatusDeclined}
	for _, s := range inactive {
		if IsSigningActive(s) {
			t.Fatalf("expected %s not to be signing-active", s)
		}
	}
}
