package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/colonia-access/gatekeeper/internal/gate/auth"
	"github.com/colonia-access/gatekeeper/internal/gate/qrtoken"
	"github.com/colonia-access/gatekeeper/internal/gate/service"
	"github.com/colonia-access/gatekeeper/internal/gate/types"
)

type Dependencies struct {
	Logger *log.Logger
	Addr   string
	Access *service.AccessService
	Login  *service.LoginService
	Signer auth.Signer

	// GateKey guards the terminal endpoints (scan, exit). Empty disables
	// the check for dev setups.
	GateKey string
}

type Server struct {
	httpServer *http.Server
	logger     *log.Logger
	mux        *http.ServeMux
	access     *service.AccessService
	login      *service.LoginService
}

func NewServer(d Dependencies) *Server {
	mux := http.NewServeMux()

	s := &Server{
		logger: d.Logger,
		mux:    mux,
		access: d.Access,
		login:  d.Login,
	}

	session := sessionMiddleware(d.Signer)
	gate := gateKeyMiddleware(d.GateKey)

	mux.HandleFunc("POST /v1/login", s.handleLogin)
	mux.HandleFunc("GET /v1/healthz", s.handleHealthz)

	mux.Handle("POST /v1/tokens", session(http.HandlerFunc(s.handleIssueToken)))
	mux.Handle("GET /v1/tokens/{id}/qr", session(http.HandlerFunc(s.handleTokenQR)))
	mux.Handle("POST /v1/tokens/{id}/revoke", session(http.HandlerFunc(s.handleRevoke)))
	mux.Handle("POST /v1/pedestrians", session(http.HandlerFunc(s.handleRegisterPedestrian)))

	mux.Handle("POST /v1/scan", gate(http.HandlerFunc(s.handleScan)))
	mux.Handle("POST /v1/visitors/{id}/exit", gate(http.HandlerFunc(s.handleExit)))

	handler := loggingMiddleware(d.Logger, mux)

	s.httpServer = &http.Server{
		Addr:              d.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req types.LoginRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return
	}

	token, res, err := s.login.Login(r.Context(), req.Name, req.AccessCode)
	if err != nil {
		if errors.Is(err, service.ErrBadCredentials) {
			writeError(w, http.StatusUnauthorized, "bad_credentials", "unknown resident or wrong access code")
			return
		}
		s.logger.Printf("login error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
		return
	}

	writeJSON(w, http.StatusOK, types.LoginResponse{
		OK:           true,
		SessionToken: token,
		ResidentID:   res.ID,
		ResidentName: res.Name,
		ServerTime:   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleIssueToken(w http.ResponseWriter, r *http.Request) {
	var req types.IssueTokenRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return
	}

	ttl := time.Duration(req.TTLMinutes) * time.Minute
	tok, encoded, err := s.access.IssueToken(r.Context(), sessionFrom(r), types.Purpose(req.Purpose), req.VisitorName, ttl)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidPurpose):
			writeError(w, http.StatusBadRequest, "invalid_purpose", err.Error())
		case errors.Is(err, service.ErrStoreUnavailable):
			writeError(w, http.StatusServiceUnavailable, "store_unavailable", "token issuance is suspended")
		default:
			s.logger.Printf("issue token error: %v", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
		}
		return
	}

	writeJSON(w, http.StatusOK, types.IssueTokenResponse{
		OK:        true,
		TokenID:   tok.ID,
		Encoded:   encoded,
		Status:    string(tok.Status),
		IssuedAt:  tok.IssuedAt.Format(time.RFC3339),
		ExpiresAt: tok.ExpiresAt.Format(time.RFC3339),
	})
}

func (s *Server) handleTokenQR(w http.ResponseWriter, r *http.Request) {
	_, encoded, err := s.access.EncodedToken(r.Context(), sessionFrom(r), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, service.ErrTokenNotFound) {
			writeError(w, http.StatusNotFound, "token_not_found", "no such token")
			return
		}
		s.logger.Printf("token qr error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
		return
	}

	size := 0
	if v := r.URL.Query().Get("size"); v != "" {
		size, _ = strconv.Atoi(v)
	}

	png, err := qrtoken.PNG(encoded, size)
	if err != nil {
		s.logger.Printf("token qr render error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	err := s.access.Revoke(r.Context(), sessionFrom(r), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, service.ErrTokenNotFound) {
			writeError(w, http.StatusNotFound, "token_not_found", "no such token")
			return
		}
		s.logger.Printf("revoke error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleRegisterPedestrian(w http.ResponseWriter, r *http.Request) {
	var req types.RegisterPedestrianRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return
	}

	rec, err := s.access.RegisterPedestrian(r.Context(), sessionFrom(r), req.VisitorName)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidVisitorName):
			writeError(w, http.StatusBadRequest, "invalid_visitor_name", err.Error())
		case errors.Is(err, service.ErrStoreUnavailable):
			writeError(w, http.StatusServiceUnavailable, "store_unavailable", "registration is suspended")
		default:
			s.logger.Printf("register pedestrian error: %v", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
		}
		return
	}

	writeJSON(w, http.StatusOK, visitorResponse(rec))
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	var req types.ScanRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return
	}

	decision, err := s.access.ScanAndAdmit(r.Context(), req.Payload)
	if err != nil {
		s.logger.Printf("scan error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
		return
	}

	// A rejection is a successful decision, not an API error.
	writeJSON(w, http.StatusOK, types.ScanResponse{
		OK:         true,
		Admitted:   decision.Admitted,
		Reason:     string(decision.Reason),
		TokenID:    decision.TokenID,
		VisitorID:  decision.VisitorID,
		ServerTime: decision.DecidedAt.Format(time.RFC3339),
	})
}

func (s *Server) handleExit(w http.ResponseWriter, r *http.Request) {
	rec, err := s.access.MarkExit(r.Context(), r.PathValue("id"))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrVisitorNotFound):
			writeError(w, http.StatusNotFound, "visitor_not_found", "no such visitor record")
		case errors.Is(err, service.ErrStoreUnavailable):
			writeError(w, http.StatusServiceUnavailable, "store_unavailable", "exit recording is suspended")
		default:
			s.logger.Printf("exit error: %v", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
		}
		return
	}

	writeJSON(w, http.StatusOK, visitorResponse(rec))
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if !s.access.Healthy() {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]string{
		"status":      status,
		"server_time": time.Now().UTC().Format(time.RFC3339),
	})
}

func visitorResponse(rec types.VisitorRecord) types.VisitorResponse {
	resp := types.VisitorResponse{
		OK:         true,
		VisitorID:  rec.ID,
		TokenID:    rec.TokenID,
		Name:       rec.Name,
		EntryAt:    rec.EntryAt.Format(time.RFC3339),
		ResidentID: rec.ResidentID,
	}
	if rec.ExitAt != nil {
		resp.ExitAt = rec.ExitAt.Format(time.RFC3339)
	}
	return resp
}
