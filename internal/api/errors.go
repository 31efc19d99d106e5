// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/fernbank/camguard/internal/supervisor"
)

// Sentinel errors the control surface translates to specific HTTP status
// codes.
var (
	ErrNotFound     = errors.New("not found")
	ErrPathRejected = errors.New("path rejected")
)

// statusFor maps a core error to a conventional HTTP status code:
// 400 validation, 404 missing, 409 busy, 500 unclassified.
func statusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrPathRejected):
		return http.StatusBadRequest
	case errors.Is(err, supervisor.ErrBusy):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type okResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

func writeResult(w http.ResponseWriter, err error) {
	if err != nil {
		writeJSON(w, statusFor(err), okResponse{OK: false, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), map[string]string{"error": err.Error()})
}
