package middleware

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/MrEthical07/posauth"
	"github.com/MrEthical07/posauth/internal/errutil"
)

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error string `json:"error"`
}

var statusByError = []struct {
	err    error
	status int
}{
	{posauth.ErrInvalidCredentials, http.StatusBadRequest},
	{posauth.ErrInvalidResetCode, http.StatusBadRequest},
	{posauth.ErrResetCodeExpired, http.StatusBadRequest},
	{posauth.ErrInvalidResetToken, http.StatusBadRequest},
	{posauth.ErrResetTokenExpired, http.StatusBadRequest},
	{posauth.ErrInvalidPassword, http.StatusBadRequest},
	{posauth.ErrAccountLocked, http.StatusUnauthorized},
	{posauth.ErrInvalidRefreshToken, http.StatusUnauthorized},
	{posauth.ErrRefreshTokenExpired, http.StatusUnauthorized},
	{posauth.ErrAccountNotFound, http.StatusUnauthorized},
	{posauth.ErrInvalidAccessToken, http.StatusUnauthorized},
	{posauth.ErrAccessTokenExpired, http.StatusUnauthorized},
	{posauth.ErrForbidden, http.StatusForbidden},
	{posauth.ErrThrottled, http.StatusTooManyRequests},
}

// StatusFor maps an engine error to its HTTP status. Unknown errors are 500.
func StatusFor(err error) int {
	for _, m := range statusByError {
		if errors.Is(err, m.err) {
			return m.status
		}
	}
	return http.StatusInternalServerError
}

// WriteError writes err as JSON. Internal errors are logged in full and sent
// to the client without detail.
func WriteError(w http.ResponseWriter, logger *zap.Logger, err error) {
	status := StatusFor(err)
	msg := http.StatusText(status)
	if status == http.StatusInternalServerError {
		if logger != nil {
			errutil.LogError(logger, "request failed", err)
		}
	} else {
		msg = domainMessage(err)
	}
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer`)
	}
	WriteJSON(w, status, ErrorBody{Error: msg})
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func domainMessage(err error) string {
	for _, m := range statusByError {
		if errors.Is(err, m.err) {
			return m.err.Error()
		}
	}
	return err.Error()
}
