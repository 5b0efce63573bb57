package response

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/baechuer/sofauth/internal/domain"
	pkgctx "github.com/baechuer/sofauth/internal/pkg/context"
)

func jsonRequest(t *testing.T, body string) *http.Request {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/x", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder, dst any) {
	t.Helper()

	if err := json.Unmarshal(rr.Body.Bytes(), dst); err != nil {
		t.Fatalf("body %q: %v", rr.Body.String(), err)
	}
}

type decodeDst struct {
	A string `json:"a"`
	B int    `json:"b"`
}

func TestDecodeJSON(t *testing.T) {
	cases := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{"single object", `{"a":"x","b":1}`, false},
		{"unknown fields tolerated", `{"a":"x","b":1,"c":"extra"}`, false},
		{"truncated body", `{"a":"x",`, true},
		{"two json values", `{}{}`, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var dst decodeDst
			err := DecodeJSON(jsonRequest(t, tc.body), &dst)

			if tc.wantErr {
				if !domain.Is(err, "invalid_json") {
					t.Fatalf("want invalid_json, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if dst.A != "x" || dst.B != 1 {
				t.Fatalf("decoded %+v", dst)
			}
		})
	}
}

func writtenError(t *testing.T, err error) (*httptest.ResponseRecorder, ErrorBody) {
	t.Helper()

	rr := httptest.NewRecorder()
	WriteError(rr, httptest.NewRequest(http.MethodGet, "/x", nil), err)

	var body ErrorBody
	decodeBody(t, rr, &body)
	return rr, body
}

func TestWriteError_ValidationError(t *testing.T) {
	rr, body := writtenError(t, domain.ErrValidationFailed(map[string][]string{
		"email": {"Email already in use"},
	}))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != jsonContentType {
		t.Fatalf("content type %q", ct)
	}
	if body.Error != "Bad Request" || body.Key != "validation_failed" || body.Status != http.StatusBadRequest {
		t.Fatalf("wire envelope %+v", body)
	}
	if got := body.ValidationErrors["email"]; len(got) != 1 || got[0] != "Email already in use" {
		t.Fatalf("validation detail %+v", body.ValidationErrors)
	}
	if body.Locked {
		t.Fatal("locked set on a validation error")
	}
}

func TestWriteError_LockedAccount(t *testing.T) {
	rr, body := writtenError(t, domain.ErrAccountLocked(300))

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status %d", rr.Code)
	}
	if body.Key != "locked" || !body.Locked {
		t.Fatalf("wire envelope %+v", body)
	}
	if !strings.Contains(body.Message, "5 minutes") {
		t.Fatalf("message %q", body.Message)
	}
}

func TestWriteError_UnknownErrorStaysOpaque(t *testing.T) {
	rr, body := writtenError(t, errors.New("boom"))

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status %d", rr.Code)
	}
	if body.Key != "internal_error" || body.Message != "internal error" {
		t.Fatalf("wire envelope %+v", body)
	}
	if strings.Contains(rr.Body.String(), "boom") {
		t.Fatalf("cause leaked: %q", rr.Body.String())
	}
}

func TestRequestIDFromContext(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	if got := RequestIDFromContext(req); got != "" {
		t.Fatalf("bare request carried id %q", got)
	}

	req = req.WithContext(pkgctx.WithRequestID(req.Context(), "rid-1"))
	if got := RequestIDFromContext(req); got != "rid-1" {
		t.Fatalf("got %q, want rid-1", got)
	}
}

func TestSuccessWriters(t *testing.T) {
	cases := []struct {
		name       string
		write      func(http.ResponseWriter)
		wantStatus int
		wantField  string
		wantValue  any
	}{
		{"ok", func(w http.ResponseWriter) { OK(w, map[string]any{"token": "abc"}) }, http.StatusOK, "token", "abc"},
		{"created", func(w http.ResponseWriter) { Created(w, map[string]any{"y": "z"}) }, http.StatusCreated, "y", "z"},
		{"message", func(w http.ResponseWriter) { Message(w, "email sent") }, http.StatusOK, "success", "email sent"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			tc.write(rr)

			if rr.Code != tc.wantStatus {
				t.Fatalf("status %d, want %d", rr.Code, tc.wantStatus)
			}
			if ct := rr.Header().Get("Content-Type"); ct != jsonContentType {
				t.Fatalf("content type %q", ct)
			}
			var m map[string]any
			decodeBody(t, rr, &m)
			if m[tc.wantField] != tc.wantValue {
				t.Fatalf("payload %+v, want %s=%v", m, tc.wantField, tc.wantValue)
			}
		})
	}
}

func TestWriteJSON_KeepsCallerContentType(t *testing.T) {
	rr := httptest.NewRecorder()
	rr.Header().Set("Content-Type", "application/custom")

	WriteJSON(rr, http.StatusCreated, map[string]any{"x": 1})

	if ct := rr.Header().Get("Content-Type"); ct != "application/custom" {
		t.Fatalf("content type %q", ct)
	}
}

func TestNoContent(t *testing.T) {
	rr := httptest.NewRecorder()
	NoContent(rr)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("status %d", rr.Code)
	}
	if rr.Body.Len() != 0 {
		t.Fatalf("unexpected body %q", rr.Body.String())
	}
}
