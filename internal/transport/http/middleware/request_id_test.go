package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	appCtx "github.com/baechuer/sofauth/internal/pkg/context"
)

func TestRequestID_MintsWhenAbsent(t *testing.T) {
	var gotCtxID string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCtxID = appCtx.GetRequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	echoed := rr.Header().Get(HeaderXRequestID)
	if echoed == "" {
		t.Fatalf("expected response header set")
	}
	if _, err := uuid.Parse(echoed); err != nil {
		t.Fatalf("expected uuid request id, got %q", echoed)
	}
	if gotCtxID != echoed {
		t.Fatalf("context id %q != header id %q", gotCtxID, echoed)
	}
}

func TestRequestID_AdoptsCallerID(t *testing.T) {
	var gotCtxID string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCtxID = appCtx.GetRequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(HeaderXRequestID, "caller-id-7")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if got := rr.Header().Get(HeaderXRequestID); got != "caller-id-7" {
		t.Fatalf("expected caller id echoed, got %q", got)
	}
	if gotCtxID != "caller-id-7" {
		t.Fatalf("expected caller id in context, got %q", gotCtxID)
	}
}
