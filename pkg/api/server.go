package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/zhufucdev/ledoxide/pkg/ledger"
	"github.com/zhufucdev/ledoxide/pkg/scheduler"
	"github.com/zhufucdev/ledoxide/pkg/task"
)

const serviceName = "ledoxide"

// Multipart field names accepted by the create route.
const (
	fieldImage       = "image"
	fieldLMSampling  = "lm_sampling"
	fieldVLMSampling = "vlm_sampling"
)

// Server handles the HTTP surface over a scheduler.
type Server struct {
	sched         *scheduler.Scheduler
	authKey       []byte
	version       string
	maxImageBytes int64
	ledger        *ledger.Ledger
	logger        *slog.Logger
	start         time.Time
	router        chi.Router
}

// NewServer creates a Server around the given scheduler.
func NewServer(sched *scheduler.Scheduler, opts ...Option) *Server {
	options := NewOptions()
	for _, opt := range opts {
		opt.Apply(options)
	}

	s := &Server{
		sched:         sched,
		authKey:       []byte(options.AuthKey),
		version:       options.Version,
		maxImageBytes: options.MaxImageBytes,
		ledger:        options.Ledger,
		logger:        options.Logger,
		start:         time.Now(),
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/", s.handleIndex)
	r.Group(func(r chi.Router) {
		r.Use(s.requireAuth)
		r.Post("/create_task", s.handleCreateTask)
		r.Get("/get_task/{id}", s.handleGetTask)
		r.Get("/stats", s.handleStats)
		if s.ledger != nil {
			r.Get("/bills", s.handleBills)
		}
	})
	return r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Info("request served",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintf(w, "%s %s", serviceName, s.version)
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxImageBytes)
	if err := r.ParseMultipartForm(s.maxImageBytes); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "image too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request: " + err.Error()})
		return
	}

	for name := range r.MultipartForm.File {
		if name != fieldImage {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown field: " + name})
			return
		}
	}
	for name := range r.MultipartForm.Value {
		switch name {
		case fieldLMSampling, fieldVLMSampling:
		default:
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown field: " + name})
			return
		}
	}

	file, _, err := r.FormFile(fieldImage)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing field: " + fieldImage})
		return
	}
	defer file.Close()
	image, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request: " + err.Error()})
		return
	}

	desc := &task.Descriptor{Image: image}
	if raw := r.FormValue(fieldVLMSampling); raw != "" {
		if err := json.Unmarshal([]byte(raw), &desc.VisionSampling); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid field: " + fieldVLMSampling})
			return
		}
	}
	if raw := r.FormValue(fieldLMSampling); raw != "" {
		if err := json.Unmarshal([]byte(raw), &desc.LanguageSampling); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid field: " + fieldLMSampling})
			return
		}
	}

	rec := s.sched.Submit(desc)
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if uuid.Validate(id) != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid task id"})
		return
	}

	rec, err := s.sched.Get(id)
	if err != nil {
		s.logger.Error("task lookup failed", "task_id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "task lookup failed"})
		return
	}
	if rec == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "task not found"})
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type statsResponse struct {
	scheduler.Stats
	Models        []string `json:"models"`
	UptimeSeconds int      `json:"uptime_seconds"`
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, statsResponse{
		Stats:         s.sched.Stats(),
		Models:        s.sched.Models().Cached(),
		UptimeSeconds: int(time.Since(s.start).Seconds()),
	})
}

func (s *Server) handleBills(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	entries, err := s.ledger.Bills(r.Context(), limit)
	if err != nil {
		s.logger.Error("bill listing failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "bill listing failed"})
		return
	}
	total, err := s.ledger.Total(r.Context())
	if err != nil {
		s.logger.Error("bill total failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "bill listing failed"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"bills": entries,
		"count": len(entries),
		"total": total,
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
