package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	gql "github.com/graphql-go/graphql"
	"github.com/redis/go-redis/v9"

	"github.com/srinadh239/blogs/internal/guard"
	"github.com/srinadh239/blogs/internal/ratelimit"
	"github.com/srinadh239/blogs/internal/usertoken"
	"github.com/srinadh239/blogs/internal/util"
	"github.com/srinadh239/blogs/pkg/domain"
	"github.com/srinadh239/blogs/pkg/identity"
	"github.com/srinadh239/blogs/pkg/realtime"
	"github.com/srinadh239/blogs/services/api/internal/app"
	"github.com/srinadh239/blogs/services/api/internal/graph"
)

const (
	maxBodyBytes     = 1 << 20
	serviceName      = "api"
	rateLimitPrefix  = "blogs:api:ratelimit:"
	defaultSignupRPM = 5
	defaultSigninRPM = 10
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App      *app.App
	Identity identity.Provider
	Guard    *guard.Guard
	Broker   realtime.Broker
	// Redis enables the signup and signin rate limiters when set.
	Redis                    redis.Cmdable
	SignupRateLimitPerMinute int
	SigninRateLimitPerMinute int
	TrustedProxies           *util.TrustedProxies
	CORSAllowedOrigins       []string
}

// Server exposes the GraphQL, auth and realtime endpoints.
type Server struct {
	app            *app.App
	identity       identity.Provider
	guard          *guard.Guard
	schema         gql.Schema
	realtime       http.Handler
	mux            *http.ServeMux
	trusted        *util.TrustedProxies
	allowedOrigins []string
	signupLimiter  *ratelimit.FixedWindowLimiter
	signinLimiter  *ratelimit.FixedWindowLimiter
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil || cfg.Identity == nil || cfg.Guard == nil {
		return nil, errors.New("server requires app, identity provider and guard")
	}
	if cfg.Broker == nil {
		cfg.Broker = realtime.NewMemoryBroker()
	}
	schema, err := graph.NewSchema(cfg.App, cfg.Guard)
	if err != nil {
		return nil, fmt.Errorf("build graphql schema: %w", err)
	}
	s := &Server{
		app:            cfg.App,
		identity:       cfg.Identity,
		guard:          cfg.Guard,
		schema:         schema,
		mux:            http.NewServeMux(),
		trusted:        cfg.TrustedProxies,
		allowedOrigins: cfg.CORSAllowedOrigins,
	}
	s.realtime = realtime.NewHandler(cfg.Broker, cfg.Guard, s.checkOrigin)

	if cfg.Redis != nil {
		signupLimit := cfg.SignupRateLimitPerMinute
		if signupLimit <= 0 {
			signupLimit = defaultSignupRPM
		}
		signinLimit := cfg.SigninRateLimitPerMinute
		if signinLimit <= 0 {
			signinLimit = defaultSigninRPM
		}
		s.signupLimiter, err = ratelimit.NewFixedWindowLimiter(cfg.Redis, rateLimitPrefix+"signup", signupLimit, time.Minute)
		if err != nil {
			return nil, fmt.Errorf("init signup limiter: %w", err)
		}
		s.signinLimiter, err = ratelimit.NewFixedWindowLimiter(cfg.Redis, rateLimitPrefix+"signin", signinLimit, time.Minute)
		if err != nil {
			return nil, fmt.Errorf("init signin limiter: %w", err)
		}
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	var h http.Handler = s.guard.CaptureHTTP(s.mux)
	h = util.WithSecurityHeaders(h)
	h = util.WithCORS(s.allowedOrigins, h)
	h = util.WithRequestLog(serviceName, h)
	return util.WithRequestID(h)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.HandleFunc("/graphql", s.handleGraphQL)
	s.mux.Handle("/realtime", s.realtime)

	// auth
	s.mux.HandleFunc("/auth/signup", s.handleSignup)
	s.mux.HandleFunc("/auth/signin", s.handleSignin)
	s.mux.HandleFunc("/auth/refresh", s.handleRefresh)
	s.mux.HandleFunc("/auth/resend", s.handleResend)
	s.mux.Handle("/auth/signout", s.guard.RequireHTTP(http.HandlerFunc(s.handleSignout)))
	s.mux.Handle("/auth/profile", s.guard.RequireHTTP(http.HandlerFunc(s.handleProfile)))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGraphQL(w http.ResponseWriter, r *http.Request) {
	var req graph.Request
	switch r.Method {
	case http.MethodPost:
		if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	case http.MethodGet:
		q := r.URL.Query()
		req.Query = q.Get("query")
		req.OperationName = q.Get("operationName")
		if raw := q.Get("variables"); raw != "" {
			if err := json.Unmarshal([]byte(raw), &req.Variables); err != nil {
				writeError(w, http.StatusBadRequest, "invalid variables")
				return
			}
		}
		if graph.HasMutation(req.Query) {
			w.Header().Set("Allow", http.MethodPost)
			writeError(w, http.StatusMethodNotAllowed, graph.ErrMutationOverGet.Error())
			return
		}
	default:
		methodNotAllowed(w)
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	writeJSON(w, http.StatusOK, graph.Execute(r.Context(), s.schema, req))
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.signupLimiter, "too many signup attempts") {
		s.audit(r, "auth.signup", "rate_limited")
		return
	}
	var req credentialsRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	session, err := s.identity.SignUp(r.Context(), req.Email, req.Password)
	if err != nil {
		s.audit(r, "auth.signup", "fail", "code", identityCode(err))
		s.writeIdentityError(w, r, err)
		return
	}
	s.audit(r, "auth.signup", "success", "user_id", session.User.ID)
	writeJSON(w, http.StatusCreated, session)
}

func (s *Server) handleSignin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.signinLimiter, "too many signin attempts") {
		s.audit(r, "auth.signin", "rate_limited")
		return
	}
	var req credentialsRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	session, err := s.identity.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		s.audit(r, "auth.signin", "fail", "code", identityCode(err))
		s.writeIdentityError(w, r, err)
		return
	}
	s.audit(r, "auth.signin", "success", "user_id", session.User.ID)
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req refreshRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.RefreshToken) == "" {
		writeError(w, http.StatusBadRequest, "refresh_token is required")
		return
	}
	session, err := s.identity.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		s.audit(r, "auth.refresh", "fail", "code", identityCode(err))
		s.writeIdentityError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleResend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req resendRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Email) == "" {
		writeError(w, http.StatusBadRequest, "email is required")
		return
	}
	if err := s.identity.ResendConfirmation(r.Context(), req.Email); err != nil {
		s.writeIdentityError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Confirmation email sent"})
}

func (s *Server) handleSignout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	header, _ := guard.CredentialsFromContext(r.Context())
	token, err := usertoken.BearerToken(header)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	principal, _ := guard.PrincipalFromContext(r.Context())
	if err := s.identity.SignOut(r.Context(), token); err != nil {
		s.audit(r, "auth.signout", "fail", "user_id", principal.ID)
		s.writeIdentityError(w, r, err)
		return
	}
	s.audit(r, "auth.signout", "success", "user_id", principal.ID)
	writeJSON(w, http.StatusOK, map[string]string{"message": "Successfully signed out"})
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	principal, _ := guard.PrincipalFromContext(r.Context())
	profile, err := s.app.Profile(r.Context(), principal.ID)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, profile)
	case errors.Is(err, app.ErrProfileNotFound):
		writeError(w, http.StatusNotFound, "profile not found")
	default:
		s.writeDomainError(w, r, err)
	}
}

// writeIdentityError keeps the provider's status and code so clients can
// classify the failure.
func (s *Server) writeIdentityError(w http.ResponseWriter, r *http.Request, err error) {
	var ierr *identity.Error
	if errors.As(err, &ierr) {
		status := ierr.Status
		if status < 400 || status > 599 {
			status = http.StatusBadRequest
		}
		if status >= 500 {
			util.LoggerFromContext(r.Context()).Error("identity provider failed", "status", ierr.Status, "code", ierr.Code, "err", err)
		}
		writeCodedError(w, status, ierr.Message, ierr.Code)
		return
	}
	s.writeDomainError(w, r, err)
}

func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *domain.ValidationError
	switch {
	case errors.Is(err, domain.ErrUnauthenticated):
		writeError(w, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, domain.ErrNotFoundOrForbidden):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &verr):
		writeCodedError(w, http.StatusBadRequest, verr.Error(), identity.CodeValidationFailed)
	case domain.IsUpstream(err):
		util.LoggerFromContext(r.Context()).Error("upstream failure", "err", err)
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		util.LoggerFromContext(r.Context()).Error("request failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", util.ClientIP(r, s.trusted),
	}
	logAttrs = append(logAttrs, attrs...)
	logger := util.LoggerFromContext(r.Context())
	if outcome == "success" {
		logger.Info("security_event", logAttrs...)
		return
	}
	logger.Warn("security_event", logAttrs...)
}

// allowRate reports whether the request is within quota. A nil limiter
// means rate limiting is disabled.
func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, limiter *ratelimit.FixedWindowLimiter, msg string) bool {
	if limiter == nil {
		return true
	}
	key := r.URL.Path + "|" + util.ClientIP(r, s.trusted)
	ok, retryAfter := limiter.Allow(r.Context(), key)
	if ok {
		return true
	}
	seconds := int(retryAfter.Round(time.Second) / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(seconds))
	writeError(w, http.StatusTooManyRequests, msg)
	return false
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := strings.TrimRight(r.Header.Get("Origin"), "/")
	if origin == "" || len(s.allowedOrigins) == 0 {
		return true
	}
	for _, allowed := range s.allowedOrigins {
		if strings.TrimRight(strings.TrimSpace(allowed), "/") == origin {
			return true
		}
	}
	return false
}

func identityCode(err error) string {
	var ierr *identity.Error
	if errors.As(err, &ierr) {
		return ierr.Code
	}
	return ""
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type resendRequest struct {
	Email string `json:"email"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeCodedError(w http.ResponseWriter, status int, msg, code string) {
	if code == "" {
		writeError(w, status, msg)
		return
	}
	writeJSON(w, status, map[string]string{"error": msg, "code": code})
}
