// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package syncserver implements the primary's side of the sync
// protocol — register, heartbeat, endpoint fetch, instance/failover-order
// administration.
package syncserver

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/watchwire/sentinel/aggregate"
	"github.com/watchwire/sentinel/domain"
	"github.com/watchwire/sentinel/health"
	"github.com/watchwire/sentinel/role"
	"github.com/watchwire/sentinel/store"
	"github.com/watchwire/sentinel/syncwire"
)

// maxBodyBytes caps every request body's ambient stack note.
const maxBodyBytes = 10 << 20

// tokenTTL is how long an issued JWT stays valid.
const tokenTTL = 24 * time.Hour

// staleAfter is the window after which an instance is considered not fresh
// for GET /instances/health, matching the reaper's staleness threshold.
const staleAfter = 5 * time.Minute

type contextKey int

const instanceIDKey contextKey = iota

// Server holds the sync plane's collaborators and exposes a chi.Router mounted under
// /api/sync, plus an unauthenticated /health at the root.
type Server struct {
	store      *store.Store
	aggregator *aggregate.Aggregator
	roles      *role.Manager
	live       health.Monitor
	log        *slog.Logger

	router chi.Router
}

// Option configures an optional collaborator on New.
type Option func(*Server)

// WithHealth wires the monitor behind GET /health; without it the endpoint
// reports healthy whenever the process answers.
func WithHealth(m health.Monitor) Option {
	return func(s *Server) { s.live = m }
}

// New wires a Server and builds its router.
func New(st *store.Store, agg *aggregate.Aggregator, roles *role.Manager, log *slog.Logger, opts ...Option) *Server {
	s := &Server{store: st, aggregator: agg, roles: roles, log: log}
	s.live = health.MonitorFunc(func(context.Context) (bool, error) { return true, nil })
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.buildRouter()
	return s
}

// ServeHTTP makes Server itself usable as the top-level http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Get("/health", s.handleHealth)

	r.Route("/api/sync", func(r chi.Router) {
		r.Use(s.capBody)

		r.Post("/register", s.handleRegister)

		// The whole sync surface is primary-only; the role is checked
		// per request so a freshly promoted instance starts serving
		// without the listener being rebuilt.
		r.Group(func(r chi.Router) {
			r.Use(s.requireBearer)
			r.Use(s.requirePrimary)

			r.Put("/heartbeat", s.handleHeartbeat)
			r.Get("/endpoints", s.handleEndpoints)

			r.Get("/instances", s.handleListInstances)
			r.Delete("/instances/{id}", s.handleDeleteInstance)
			r.Get("/instances/health", s.handleInstancesHealth)
			r.Get("/failover-order", s.handleGetFailoverOrder)
			r.Put("/failover-order", s.handlePutFailoverOrder)
		})
	})

	return r
}

func (s *Server) capBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		next.ServeHTTP(w, r)
	})
}

// requireBearer validates the Authorization header as an HS256 JWT signed
// with the primary's jwtSecret, then confirms its sha256 digest matches the
// single active token on record for the claimed instance.
func (s *Server) requireBearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := bearerToken(r)
		if raw == "" {
			writeError(w, http.StatusUnauthorized, ErrUnauthorized)
			return
		}

		cfg, err := s.store.InstanceConfig()
		if err != nil {
			writeError(w, http.StatusUnauthorized, ErrUnauthorized)
			return
		}

		claims := jwt.MapClaims{}
		_, err = jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
			return []byte(cfg.JWTSecret), nil
		}, jwt.WithValidMethods([]string{"HS256"}))
		if err != nil {
			writeError(w, http.StatusUnauthorized, ErrUnauthorized)
			return
		}

		instanceID, _ := claims["instanceId"].(string)
		if instanceID == "" {
			writeError(w, http.StatusUnauthorized, ErrUnauthorized)
			return
		}

		tok, err := s.store.TokenByInstance(instanceID)
		if err != nil || tok.Expired(time.Now()) || tok.TokenSHA256 != store.TokenSHA256(raw) {
			writeError(w, http.StatusUnauthorized, ErrUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), instanceIDKey, instanceID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requirePrimary gates the primary-only sync surface.
func (s *Server) requirePrimary(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.roles.Role() != domain.RolePrimary {
			writeError(w, http.StatusForbidden, ErrForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return ""
	}
	return strings.TrimPrefix(h, prefix)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health.Handler(s.live)(w, r)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req syncwire.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrBadRequest)
		return
	}
	if req.InstanceID == "" || req.InstanceName == "" {
		writeError(w, http.StatusBadRequest, ErrBadRequest)
		return
	}

	if s.roles.Role() != domain.RolePrimary {
		writeError(w, http.StatusForbidden, ErrForbidden)
		return
	}

	cfg, err := s.store.InstanceConfig()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if cfg.SharedSecret == "" {
		// Registration is impossible without a shared secret to verify
		// against; refusing outright beats silently accepting anyone.
		writeError(w, http.StatusInternalServerError, ErrNoSharedSecret)
		return
	}
	if cfg.SharedSecret != req.SharedSecret {
		writeError(w, http.StatusUnauthorized, ErrSharedSecret)
		return
	}

	now := time.Now()
	inst := domain.MonitoringInstance{
		InstanceID:    req.InstanceID,
		Name:          req.InstanceName,
		Location:      req.Location,
		SyncURL:       req.PublicEndpoint,
		FailoverOrder: req.FailoverOrder,
		LastHeartbeat: now,
		Status:        domain.InstanceActive,
		Capabilities:  req.Capabilities,
		SystemInfo: domain.SystemInfo{
			Platform:    req.SystemInfo.Platform,
			Arch:        req.SystemInfo.Arch,
			NodeVersion: req.SystemInfo.NodeVersion,
			Memory:      req.SystemInfo.Memory,
			CPU:         req.SystemInfo.CPU,
			Uptime:      req.SystemInfo.Uptime,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if existing, err := s.store.Instance(req.InstanceID); err == nil {
		inst.CreatedAt = existing.CreatedAt
	}
	if err := s.store.PutInstance(inst); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	token, err := issueToken(cfg.JWTSecret, req.InstanceID, req.InstanceName)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if err := s.store.PutToken(domain.InstanceToken{
		InstanceID:  req.InstanceID,
		TokenSHA256: store.TokenSHA256(token),
		ExpiresAt:   now.Add(tokenTTL),
		IssuedAt:    now,
	}); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeData(w, http.StatusOK, syncwire.RegisterResponse{Token: token, InstanceID: req.InstanceID})
}

// issueToken signs an HS256 JWT: payload
// {instanceId, instanceName, iat, exp, jti}, 24h expiry. jti is a fresh
// random id, so two registrations within the same second still get
// distinct tokens and the older one is revoked by the overwrite.
func issueToken(jwtSecret, instanceID, instanceName string) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"instanceId":   instanceID,
		"instanceName": instanceName,
		"iat":          now.Unix(),
		"exp":          now.Add(tokenTTL).Unix(),
		"jti":          uuid.NewString(),
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString([]byte(jwtSecret))
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	instanceID := r.Context().Value(instanceIDKey).(string)

	var payload syncwire.HeartbeatPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, ErrBadRequest)
		return
	}
	if payload.InstanceID != instanceID {
		writeError(w, http.StatusBadRequest, ErrBadRequest)
		return
	}

	inst, err := s.store.Instance(instanceID)
	if err != nil {
		writeError(w, http.StatusNotFound, ErrNotFound)
		return
	}
	now := time.Now()
	inst.LastHeartbeat = now
	inst.Status = domain.InstanceActive
	inst.UpdatedAt = now
	if err := s.store.PutInstance(inst); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	// The per-peer blobs are best-effort caches for the admin surface;
	// a write failure must not reject the heartbeat's outcomes.
	if err := s.store.PutConnectionStatus(instanceID, payload.ConnectionStatus); err != nil {
		s.log.Warn("syncserver: cache connection status", slog.Any("error", err))
	}
	if err := s.store.PutSystemMetrics(instanceID, payload.SystemMetrics); err != nil {
		s.log.Warn("syncserver: cache system metrics", slog.Any("error", err))
	}

	outcomes := make([]domain.ProbeOutcome, 0, len(payload.MonitoringResults))
	for _, wo := range payload.MonitoringResults {
		o := wo.ToDomain()
		if err := s.store.AppendOutcome(o); err != nil {
			s.log.Error("syncserver: append outcome", slog.Int64("endpointId", o.EndpointID), slog.Any("error", err))
			continue
		}
		outcomes = append(outcomes, o)
	}

	// One heartbeat's outcomes are handed to the aggregator as one batch.
	// The batch is not atomic: outcomes applied before a failing one stay
	// applied. A failure rejects the whole heartbeat, so the dependent
	// counts it against its failure streak; it does not resend the outcomes.
	if err := s.aggregator.ApplyBatch(outcomes); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeData(w, http.StatusOK, syncwire.HeartbeatResponse{Timestamp: now})
}

func (s *Server) handleEndpoints(w http.ResponseWriter, r *http.Request) {
	eps, err := s.store.NonPausedEndpoints()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeData(w, http.StatusOK, eps)
}

func (s *Server) handleListInstances(w http.ResponseWriter, r *http.Request) {
	insts, err := s.store.Instances()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeData(w, http.StatusOK, insts)
}

func (s *Server) handleDeleteInstance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.store.DeleteInstance(id); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeData(w, http.StatusOK, map[string]string{"instanceId": id})
}

func (s *Server) handleInstancesHealth(w http.ResponseWriter, r *http.Request) {
	insts, err := s.store.Instances()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	now := time.Now()
	type row struct {
		InstanceID string `json:"instanceId"`
		Status     string `json:"status"`
		Fresh      bool   `json:"fresh"`
	}
	out := make([]row, 0, len(insts))
	for _, i := range insts {
		out = append(out, row{InstanceID: i.InstanceID, Status: string(i.Status), Fresh: i.Fresh(now, staleAfter)})
	}
	writeData(w, http.StatusOK, out)
}

func (s *Server) handleGetFailoverOrder(w http.ResponseWriter, r *http.Request) {
	insts, err := s.store.Instances()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	entries := make([]syncwire.FailoverOrderEntry, 0, len(insts))
	for _, i := range insts {
		entries = append(entries, syncwire.FailoverOrderEntry{InstanceID: i.InstanceID, Order: i.FailoverOrder})
	}
	writeData(w, http.StatusOK, syncwire.FailoverOrderRequest{InstanceOrders: entries})
}

func (s *Server) handlePutFailoverOrder(w http.ResponseWriter, r *http.Request) {
	var req syncwire.FailoverOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrBadRequest)
		return
	}

	for _, e := range req.InstanceOrders {
		inst, err := s.store.Instance(e.InstanceID)
		if err != nil {
			continue
		}
		inst.FailoverOrder = e.Order
		inst.UpdatedAt = time.Now()
		if err := s.store.PutInstance(inst); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
	}
	writeData(w, http.StatusOK, req)
}

func writeData(w http.ResponseWriter, status int, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(syncwire.Envelope{Success: true, Data: raw})
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(syncwire.Envelope{Success: false, Error: err.Error()})
}
