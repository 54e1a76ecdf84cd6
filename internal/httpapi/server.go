// Package httpapi exposes the engine over JSON HTTP. The refresh token never
// appears in a response body: it travels in an HttpOnly cookie scoped to the
// refresh path.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/MrEthical07/posauth"
	"github.com/MrEthical07/posauth/account"
	"github.com/MrEthical07/posauth/internal/logging"
	"github.com/MrEthical07/posauth/metrics"
	"github.com/MrEthical07/posauth/middleware"
	"github.com/MrEthical07/posauth/password"
	"github.com/MrEthical07/posauth/permission"
)

const (
	RefreshCookie = "refresh_token"
	RefreshPath   = "/auth/refresh"

	maxBodyBytes = 1 << 16
)

var errBadRequest = errors.New("malformed request body")

// ActivationStore toggles account activation for the admin route.
type ActivationStore interface {
	SetActive(ctx context.Context, id string, active bool) error
}

// Options wires the router. Metrics, Realtime and Accounts are optional; their
// routes are registered only when set.
type Options struct {
	Engine        *posauth.Engine
	Logger        *zap.Logger
	Metrics       *metrics.Metrics
	Realtime      http.Handler
	Accounts      ActivationStore
	SecureCookies bool
}

type server struct {
	engine *posauth.Engine
	logger *zap.Logger
	secure bool
}

// NewHandler returns the routed handler.
func NewHandler(opts Options) (http.Handler, error) {
	if opts.Engine == nil {
		return nil, errors.New("httpapi: engine is required")
	}
	logger := logging.OrNop(opts.Logger)
	s := &server{engine: opts.Engine, logger: logger.Named("http"), secure: opts.SecureCookies}
	guard := middleware.Guard(s.engine, s.logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("POST /auth/signin", s.signIn)
	mux.HandleFunc("POST "+RefreshPath, s.refresh)
	mux.Handle("POST /auth/logout", guard(http.HandlerFunc(s.logout)))
	mux.Handle("GET /auth/me", guard(http.HandlerFunc(s.me)))
	mux.HandleFunc("POST /auth/forgot-password", s.forgotPassword)
	mux.HandleFunc("POST /auth/validate-reset-code", s.validateResetCode)
	mux.HandleFunc("POST /auth/reset-password", s.resetPassword)

	if opts.Accounts != nil {
		h := s.engine.Hierarchies()
		chain := guard(
			middleware.RequireRoles(h, s.logger, permission.RoleManager)(
				middleware.ProtectAdminTargets(s.engine.Store(), s.logger, pathID)(
					s.setActive(opts.Accounts))))
		mux.Handle("PUT /accounts/{id}/active", chain)
	}
	if opts.Metrics != nil {
		mux.Handle("GET /metrics", opts.Metrics.Handler())
	}
	if opts.Realtime != nil {
		mux.Handle("GET /realtime", opts.Realtime)
	}

	return middleware.ClientContext(mux), nil
}

type signInRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

func (s *server) signIn(w http.ResponseWriter, r *http.Request) {
	var body signInRequest
	if !s.decode(w, r, &body) {
		return
	}

	pair, err := s.engine.SignIn(r.Context(), body.Username, body.Password)
	if err != nil {
		middleware.WriteError(w, s.logger, err)
		return
	}
	s.setRefreshCookie(w, pair.RefreshToken)
	middleware.WriteJSON(w, http.StatusOK, tokenResponse{AccessToken: pair.AccessToken, ExpiresIn: pair.ExpiresIn})
}

func (s *server) refresh(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(RefreshCookie)
	if err != nil || cookie.Value == "" {
		middleware.WriteError(w, s.logger, posauth.ErrInvalidRefreshToken)
		return
	}

	pair, err := s.engine.Refresh(r.Context(), cookie.Value)
	if err != nil {
		if errors.Is(err, posauth.ErrInvalidRefreshToken) || errors.Is(err, posauth.ErrRefreshTokenExpired) {
			s.clearRefreshCookie(w)
		}
		middleware.WriteError(w, s.logger, err)
		return
	}
	s.setRefreshCookie(w, pair.RefreshToken)
	middleware.WriteJSON(w, http.StatusOK, tokenResponse{AccessToken: pair.AccessToken, ExpiresIn: pair.ExpiresIn})
}

func (s *server) logout(w http.ResponseWriter, r *http.Request) {
	claims, _ := posauth.ClaimsFromContext(r.Context())
	if err := s.engine.Logout(r.Context(), claims.Subject); err != nil {
		middleware.WriteError(w, s.logger, err)
		return
	}
	s.clearRefreshCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

type meResponse struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Role     string `json:"role"`
}

func (s *server) me(w http.ResponseWriter, r *http.Request) {
	claims, _ := posauth.ClaimsFromContext(r.Context())
	middleware.WriteJSON(w, http.StatusOK, meResponse{
		ID:       claims.Subject,
		Username: claims.Username,
		Email:    claims.Email,
		Role:     claims.Role,
	})
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

type messageResponse struct {
	Message string `json:"message"`
}

func (s *server) forgotPassword(w http.ResponseWriter, r *http.Request) {
	var body forgotPasswordRequest
	if !s.decode(w, r, &body) {
		return
	}
	if err := s.engine.RequestPasswordReset(r.Context(), body.Email, posauth.DeviceContext{}); err != nil {
		middleware.WriteError(w, s.logger, err)
		return
	}
	middleware.WriteJSON(w, http.StatusAccepted, messageResponse{
		Message: "If the address belongs to an active account, a reset code has been sent.",
	})
}

type validateResetCodeRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

type resetTokenResponse struct {
	ResetToken string `json:"reset_token"`
	ExpiresIn  int64  `json:"expires_in"`
}

func (s *server) validateResetCode(w http.ResponseWriter, r *http.Request) {
	var body validateResetCodeRequest
	if !s.decode(w, r, &body) {
		return
	}
	tok, err := s.engine.ValidateResetCode(r.Context(), body.Email, body.Code)
	if err != nil {
		middleware.WriteError(w, s.logger, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, resetTokenResponse{ResetToken: tok.Token, ExpiresIn: tok.ExpiresIn})
}

type resetPasswordRequest struct {
	ResetToken string `json:"reset_token"`
	Password   string `json:"password"`
}

func (s *server) resetPassword(w http.ResponseWriter, r *http.Request) {
	var body resetPasswordRequest
	if !s.decode(w, r, &body) {
		return
	}
	if err := password.CheckStrength(body.Password); err != nil {
		middleware.WriteJSON(w, http.StatusBadRequest, middleware.ErrorBody{Error: err.Error()})
		return
	}
	if err := s.engine.ResetPassword(r.Context(), body.ResetToken, body.Password); err != nil {
		middleware.WriteError(w, s.logger, err)
		return
	}
	s.clearRefreshCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

type setActiveRequest struct {
	Active *bool `json:"active"`
}

func (s *server) setActive(store ActivationStore) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body setActiveRequest
		if !s.decode(w, r, &body) {
			return
		}
		if body.Active == nil {
			middleware.WriteJSON(w, http.StatusBadRequest, middleware.ErrorBody{Error: "active is required"})
			return
		}
		if err := store.SetActive(r.Context(), pathID(r), *body.Active); err != nil {
			if errors.Is(err, account.ErrNotFound) {
				err = posauth.ErrAccountNotFound
			}
			middleware.WriteError(w, s.logger, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

func pathID(r *http.Request) string { return r.PathValue("id") }

func (s *server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		s.logger.Debug("decode request", zap.String("path", r.URL.Path), zap.Error(err))
		middleware.WriteJSON(w, http.StatusBadRequest, middleware.ErrorBody{Error: errBadRequest.Error()})
		return false
	}
	return true
}

func (s *server) setRefreshCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     RefreshCookie,
		Value:    token,
		Path:     RefreshPath,
		MaxAge:   int(s.engine.Config().JWT.RefreshTTL.Seconds()),
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *server) clearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     RefreshCookie,
		Value:    "",
		Path:     RefreshPath,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})
}
