// Package httpapi exposes the service over JSON HTTP. Routing uses the
// standard library mux; every handler past login runs behind bearer-token
// auth with per-route role checks.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"stokkita/backend/internal/domain"
	"stokkita/backend/internal/service"
	"stokkita/backend/internal/store"
)

const maxBodyBytes = 1 << 20

type Server struct {
	svc           *service.Service
	auth          *AuthManager
	allowedOrigin string
	logins        *loginLimiter
}

func NewServer(svc *service.Service, auth *AuthManager, allowedOrigin string) *Server {
	return &Server{
		svc:           svc,
		auth:          auth,
		allowedOrigin: allowedOrigin,
		logins:        newLoginLimiter(10, time.Minute),
	}
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("POST /api/login", s.handleLogin)

	// Catalog.
	mux.Handle("GET /api/products", s.requireAuth(s.handleListProducts, domain.RoleAdmin, domain.RoleStaff))
	mux.Handle("POST /api/products", s.requireAuth(s.handleCreateProduct, domain.RoleAdmin))
	mux.Handle("GET /api/products/{id}", s.requireAuth(s.handleGetProduct, domain.RoleAdmin, domain.RoleStaff))
	mux.Handle("PATCH /api/products/{id}", s.requireAuth(s.handleUpdateProduct, domain.RoleAdmin))
	mux.Handle("PUT /api/products/{id}/price", s.requireAuth(s.handleUpdatePrice, domain.RoleAdmin))
	mux.Handle("GET /api/products/{id}/price-history", s.requireAuth(s.handlePriceHistory, domain.RoleAdmin))
	mux.Handle("GET /api/products/{id}/batches", s.requireAuth(s.handleListBatches, domain.RoleAdmin))
	mux.Handle("POST /api/products/{id}/archive", s.requireAuth(s.handleArchiveProduct, domain.RoleAdmin))
	mux.Handle("POST /api/products/{id}/unarchive", s.requireAuth(s.handleUnarchiveProduct, domain.RoleAdmin))

	// Stock intake.
	mux.Handle("POST /api/stock-in", s.requireAuth(s.handleStockIn, domain.RoleAdmin))
	mux.Handle("GET /api/stock-in", s.requireAuth(s.handleListStockIns, domain.RoleAdmin))

	// Sales.
	mux.Handle("POST /api/sales", s.requireAuth(s.handleRecordSale, domain.RoleAdmin, domain.RoleStaff))
	mux.Handle("GET /api/sales", s.requireAuth(s.handleListSales, domain.RoleAdmin, domain.RoleStaff))
	mux.Handle("GET /api/sales/{id}", s.requireAuth(s.handleGetSale, domain.RoleAdmin, domain.RoleStaff))
	mux.Handle("POST /api/sales/{id}/cancel", s.requireAuth(s.handleCancelSale, domain.RoleAdmin))

	// Reports.
	mux.Handle("GET /api/reports/summary", s.requireAuth(s.handleSalesSummary, domain.RoleAdmin, domain.RoleStaff))
	mux.Handle("GET /api/reports/fast-movers", s.requireAuth(s.handleFastMovers, domain.RoleAdmin, domain.RoleStaff))
	mux.Handle("GET /api/reports/high-profit", s.requireAuth(s.handleHighProfit, domain.RoleAdmin, domain.RoleStaff))
	mux.Handle("GET /api/reports/low-stock", s.requireAuth(s.handleLowStock, domain.RoleAdmin, domain.RoleStaff))
	mux.Handle("GET /api/reports/daily", s.requireAuth(s.handleDailySeries, domain.RoleAdmin, domain.RoleStaff))

	// Schedules.
	mux.Handle("GET /api/schedules", s.requireAuth(s.handleListSchedules, domain.RoleAdmin, domain.RoleStaff))
	mux.Handle("POST /api/schedules", s.requireAuth(s.handleCreateSchedule, domain.RoleAdmin))
	mux.Handle("PUT /api/schedules/{id}", s.requireAuth(s.handleUpdateSchedule, domain.RoleAdmin))
	mux.Handle("DELETE /api/schedules/{id}", s.requireAuth(s.handleDeleteSchedule, domain.RoleAdmin))

	// Staff accounts and audit trail.
	mux.Handle("POST /api/staff", s.requireAuth(s.handleCreateStaff, domain.RoleAdmin))
	mux.Handle("GET /api/staff", s.requireAuth(s.handleListStaff, domain.RoleAdmin))
	mux.Handle("PUT /api/staff/{username}/password", s.requireAuth(s.handleResetStaffPassword, domain.RoleAdmin))
	mux.Handle("GET /api/audit-logs", s.requireAuth(s.handleListAuditLogs, domain.RoleAdmin))

	return s.withCommonHeaders(mux)
}

func (s *Server) withCommonHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		if s.allowedOrigin != "" {
			h.Set("Access-Control-Allow-Origin", s.allowedOrigin)
			h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requireAuth(handler http.HandlerFunc, roles ...string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		actor, err := s.auth.Verify(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}

		allowed := false
		for _, role := range roles {
			if actor.Role == role {
				allowed = true
				break
			}
		}
		if !allowed {
			writeError(w, http.StatusForbidden, "insufficient role")
			return
		}

		handler(w, r.WithContext(service.WithActor(r.Context(), actor)))
	})
}

// --- auth ---

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !s.logins.allow(clientIP(r)) {
		writeError(w, http.StatusTooManyRequests, "too many login attempts, try again later")
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := s.auth.Login(r.Context(), req)
	if err != nil {
		if errors.Is(err, ErrBadCredentials) {
			writeError(w, http.StatusUnauthorized, "invalid username or password")
			return
		}
		writeServerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// --- catalog ---

func (s *Server) handleListProducts(w http.ResponseWriter, r *http.Request) {
	includeArchived := r.URL.Query().Get("include_archived") == "true" &&
		service.ActorFromContext(r.Context()).Role == domain.RoleAdmin

	products, err := s.svc.ListProducts(r.Context(), includeArchived)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": products})
}

func (s *Server) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	var req domain.ProductCreateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	product, err := s.svc.CreateProduct(r.Context(), req)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, product)
}

func (s *Server) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	product, err := s.svc.GetProduct(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, product)
}

func (s *Server) handleUpdateProduct(w http.ResponseWriter, r *http.Request) {
	var req domain.ProductUpdateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	product, err := s.svc.UpdateProduct(r.Context(), r.PathValue("id"), req)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, product)
}

func (s *Server) handleUpdatePrice(w http.ResponseWriter, r *http.Request) {
	var req domain.ProductPriceUpdateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	result, err := s.svc.UpdatePrice(r.Context(), r.PathValue("id"), req)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	status := http.StatusOK
	if !result.Applied {
		// The warning needs an explicit second request with force set.
		status = http.StatusConflict
	}
	writeJSON(w, status, result)
}

func (s *Server) handlePriceHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := s.svc.ListPriceHistory(r.Context(), r.PathValue("id"), queryInt(r, "limit", 50))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": entries})
}

func (s *Server) handleListBatches(w http.ResponseWriter, r *http.Request) {
	batches, err := s.svc.ListBatches(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"batches": batches})
}

func (s *Server) handleArchiveProduct(w http.ResponseWriter, r *http.Request) {
	product, err := s.svc.ArchiveProduct(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, product)
}

func (s *Server) handleUnarchiveProduct(w http.ResponseWriter, r *http.Request) {
	product, err := s.svc.UnarchiveProduct(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, product)
}

// --- stock intake ---

func (s *Server) handleStockIn(w http.ResponseWriter, r *http.Request) {
	var req domain.StockInRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	batch, err := s.svc.StockIn(r.Context(), req)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, batch)
}

func (s *Server) handleListStockIns(w http.ResponseWriter, r *http.Request) {
	entries, err := s.svc.ListStockIns(r.Context(), queryInt(r, "limit", 100))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stock_ins": entries})
}

// --- sales ---

func (s *Server) handleRecordSale(w http.ResponseWriter, r *http.Request) {
	var req domain.RecordSaleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sale, err := s.svc.RecordSale(r.Context(), req)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sale)
}

func (s *Server) handleListSales(w http.ResponseWriter, r *http.Request) {
	sales, err := s.svc.ListSales(r.Context(), queryInt(r, "limit", 50))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, domain.SaleListResponse{Sales: sales})
}

func (s *Server) handleGetSale(w http.ResponseWriter, r *http.Request) {
	sale, err := s.svc.GetSale(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sale)
}

func (s *Server) handleCancelSale(w http.ResponseWriter, r *http.Request) {
	sale, err := s.svc.CancelSale(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sale)
}

// --- reports ---

func (s *Server) handleSalesSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.svc.SalesSummary(r.Context(), r.URL.Query().Get("from"), r.URL.Query().Get("to"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleFastMovers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	items, err := s.svc.FastMovers(r.Context(), q.Get("from"), q.Get("to"), queryInt(r, "limit", 5))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": items})
}

func (s *Server) handleHighProfit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	items, err := s.svc.HighProfit(r.Context(), q.Get("from"), q.Get("to"), queryInt(r, "limit", 5))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": items})
}

func (s *Server) handleLowStock(w http.ResponseWriter, r *http.Request) {
	items, err := s.svc.LowStock(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) handleDailySeries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	points, err := s.svc.DailySeries(r.Context(), q.Get("from"), q.Get("to"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"days": points})
}

// --- schedules ---

func (s *Server) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	schedules, err := s.svc.ListSchedules(r.Context(), q.Get("from"), q.Get("to"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"schedules": schedules})
}

func (s *Server) handleCreateSchedule(w http.ResponseWriter, r *http.Request) {
	var req domain.ScheduleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	schedule, err := s.svc.CreateSchedule(r.Context(), req)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, schedule)
}

func (s *Server) handleUpdateSchedule(w http.ResponseWriter, r *http.Request) {
	var req domain.ScheduleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	schedule, err := s.svc.UpdateSchedule(r.Context(), r.PathValue("id"), req)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, schedule)
}

func (s *Server) handleDeleteSchedule(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.DeleteSchedule(r.Context(), r.PathValue("id")); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- staff and audit ---

func (s *Server) handleCreateStaff(w http.ResponseWriter, r *http.Request) {
	var req domain.StaffCreateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	user, err := s.svc.CreateStaff(r.Context(), req)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

func (s *Server) handleResetStaffPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Password string `json:"password"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.svc.ResetStaffPassword(r.Context(), r.PathValue("username"), req.Password); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListStaff(w http.ResponseWriter, r *http.Request) {
	users, err := s.svc.ListStaff(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

func (s *Server) handleListAuditLogs(w http.ResponseWriter, r *http.Request) {
	entries, err := s.svc.ListAuditLogs(r.Context(), queryInt(r, "limit", 100))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": entries})
}

// --- plumbing ---

func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var insufficient *domain.InsufficientStockError
	var notCancellable *domain.NotCancellableError
	switch {
	case errors.As(err, &insufficient):
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &notCancellable):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, store.ErrWriteConflict):
		writeError(w, http.StatusConflict, "concurrent update, retry the request")
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, store.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeServerError(w, r, err)
	}
}

func writeServerError(w http.ResponseWriter, r *http.Request, err error) {
	log.Printf("[httpapi] ERROR: %s %s: %v", r.Method, r.URL.Path, err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("[httpapi] WARN: response encode failed: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("request body must contain a single JSON object")
	}
	return nil
}

func queryInt(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// loginLimiter caps login attempts per source IP over a fixed window.
type loginLimiter struct {
	mu       sync.Mutex
	attempts map[string]*windowCount
	limit    int
	window   time.Duration
}

type windowCount struct {
	count int
	reset time.Time
}

func newLoginLimiter(limit int, window time.Duration) *loginLimiter {
	return &loginLimiter{
		attempts: make(map[string]*windowCount),
		limit:    limit,
		window:   window,
	}
}

func (l *loginLimiter) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	entry, ok := l.attempts[ip]
	if !ok || now.After(entry.reset) {
		l.attempts[ip] = &windowCount{count: 1, reset: now.Add(l.window)}
		// Drop stale entries so the map does not grow with one-off IPs.
		for k, v := range l.attempts {
			if now.After(v.reset) {
				delete(l.attempts, k)
			}
		}
		return true
	}
	if entry.count >= l.limit {
		return false
	}
	entry.count++
	return true
}
