package response

import (
	"encoding/json"
	"net/http"
)

const jsonContentType = "application/json; charset=utf-8"

// WriteJSON writes v with the given status. An already-set Content-Type is
// left alone so non-JSON responses can reuse the helper.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	if w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", jsonContentType)
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// OK writes a 200 with the payload at the top level; session responses and
// probe results are wire shapes of their own, not envelopes.
func OK(w http.ResponseWriter, v any) {
	WriteJSON(w, http.StatusOK, v)
}

// Created writes a 201.
func Created(w http.ResponseWriter, v any) {
	WriteJSON(w, http.StatusCreated, v)
}

// NoContent acknowledges without a body.
func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// Message writes a bare {"ok": true, "success": ...} acknowledgment.
func Message(w http.ResponseWriter, msg string) {
	WriteJSON(w, http.StatusOK, map[string]any{"ok": true, "success": msg})
}
