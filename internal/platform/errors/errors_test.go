package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestErrorIs_MatchesByCode(t *testing.T) {
	err := New(CodeSignerAlreadySigned, "signer already signed")
	target := New(CodeSignerAlreadySigned, "different message")

	if !errors.Is(err, target) {
		t.Fatal("expected errors with the same code to match")
	}

	other := New(CodeTokenExpired, "token expired")
	if errors.Is(err, other) {
		t.Fatal("expected errors with different codes not to match")
	}
}

func TestWrap_PreservesCause(t *testing.T) {
	cause := fmt.Errorf("disk is full")
	err := Wrap(CodeUnknown, "save failed", cause)

	if !errors.Is(err, cause) {
		t.Fatal("expected wrapped cause to be found in chain")
	}
}

func TestGetCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Code
	}{
		{"domain error", New(CodeTokenAlreadyUsed, "used"), CodeTokenAlreadyUsed},
		{"wrapped domain error", fmt.Errorf("outer: %w", New(CodeNotFound, "missing")), CodeNotFound},
		{"plain error", fmt.Errorf("boom"), CodeUnknown},
		{"nil", nil, CodeUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetCode(tt.err); got != tt.want {
				t.Fatalf("GetCode = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestGRPCCodeMapping(t *testing.T) {
	tests := []struct {
		code Code
		want codes.Code
	}{
		{CodeTokenInvalid, codes.Unauthenticated},
		{CodeTokenExpired, codes.Unauthenticated},
		{CodeTokenAlreadyUsed, codes.Unauthenticated},
		{CodeSignerAlreadySigned, codes.FailedPrecondition},
		{CodeSignerOutOfOrder, codes.FailedPrecondition},
		{CodeEnvelopeInvalidStatusTransition, codes.FailedPrecondition},
		{CodeSigningAlgorithmUnsupported, codes.InvalidArgument},
		{CodeSigningFailed, codes.Unavailable},
		{CodeNotFound, codes.NotFound},
		{CodeUnknown, codes.Internal},
	}
	for _, tt := range tests {
		if got := tt.code.GRPCCode(); got != tt.want {
			t.Fatalf("GRPCCode(%s) = %s, want %s", tt.code, got, tt.want)
		}
	}
}

func TestHTTPStatusMapping(t *testing.T) {
	tests := []struct {
		code Code
		want int
	}{
		{CodeTokenAlreadyUsed, http.StatusUnauthorized},
		{CodeSignerAlreadySigned, http.StatusConflict},
		{CodeSignerOutOfOrder, http.StatusConflict},
		{CodeSigningAlgorithmUnsupported, http.StatusBadRequest},
		{CodeNotFound, http.StatusNotFound},
		{CodeSigningFailed, http.StatusBadGateway},
		{CodeUnknown, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := tt.code.HTTPStatus(); got != tt.want {
			t.Fatalf("HTTPStatus(%s) = %d, want %d", tt.code, got, tt.want)
		}
	}
}

func TestHandleError_AttachesErrorInfo(t *testing.T) {
	err := WithMetadata(CodeEnvelopeInvalidStatusTransition, "cannot complete a draft envelope", map[string]string{
		"FromStatus": "draft",
		"ToStatus":   "completed",
	})

	st, ok := status.FromError(HandleError(err))
	if !ok {
		t.Fatal("expected a gRPC status error")
	}
	if st.Code() != codes.FailedPrecondition {
		t.Fatalf("status code = %s, want %s", st.Code(), codes.FailedPrecondition)
	}
	if len(st.Details()) == 0 {
		t.Fatal("expected errdetails to be attached")
	}
}

func TestHandleError_StatusErrorPassesThrough(t *testing.T) {
	in := status.Error(codes.NotFound, "unknown service")
	out := HandleError(in)
	if out != in {
		t.Fatalf("HandleError rewrote a status error: %v", out)
	}
}

func TestHandleError_UnknownErrorIsInternal(t *testing.T) {
	st, ok := status.FromError(HandleError(fmt.Errorf("storage offline")))
	if !ok {
		t.Fatal("expected a gRPC status error")
	}
	if st.Code() != codes.Internal {
		t.Fatalf("status code = %s, want %s", st.Code(), codes.Internal)
	}
	if st.Message() == "storage offline" {
		t.Fatal("internal error details must not leak to clients")
	}
}
