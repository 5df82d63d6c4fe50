package debugsrv

import (
	"encoding/json"
	"net/http"
	hpprof "net/http/pprof"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"bgqueue/internal/background"
	"bgqueue/internal/journal"
	"bgqueue/pkg/logx"
)

// Queue is the part of the background scheduler the debug server exposes.
type Queue interface {
	Snapshot() background.Report
	Diagnostics() error
	Cancel(name string) int
	Healthy() bool
}

const defaultJournalLimit = 20

// Router builds the debug HTTP handler. journal may be nil.
func Router(prefix, token string, q Queue, j journal.Store, log logx.Logger) http.Handler {
	p := normalizePrefix(prefix)
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(bearerAuth(token))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if q != nil && !q.Healthy() {
			http.Error(w, "background worker down", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	})

	mount := func(r chi.Router) {
		r.Get("/pprof", func(w http.ResponseWriter, req *http.Request) {
			http.Redirect(w, req, p+"pprof/", http.StatusPermanentRedirect)
		})
		r.Get("/pprof/*", pprofIndexAt(p+"pprof/"))
		r.Get("/pprof/cmdline", hpprof.Cmdline)
		r.Get("/pprof/profile", hpprof.Profile)
		r.HandleFunc("/pprof/symbol", hpprof.Symbol)
		r.Get("/pprof/trace", hpprof.Trace)

		if q == nil {
			return
		}
		h := &handlers{q: q, j: j, log: log}
		r.With(chimiddleware.NoCache).Get("/background", h.snapshot)
		r.Post("/background/report", h.report)
		r.Post("/background/cancel", h.cancel)
		r.With(chimiddleware.NoCache).Get("/background/journal", h.journal)
	}
	if base := strings.TrimSuffix(p, "/"); base != "" {
		r.Route(base, mount)
	} else {
		r.Group(mount)
	}
	return r
}

type handlers struct {
	q   Queue
	j   journal.Store
	log logx.Logger
}

func (h *handlers) snapshot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.q.Snapshot())
}

func (h *handlers) report(w http.ResponseWriter, _ *http.Request) {
	if err := h.q.Diagnostics(); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

// cancel removes pending tasks by name. A missing name is rejected rather than
// treated as cancel-all; use all=true for that.
func (h *handlers) cancel(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(r.URL.Query().Get("name"))
	all, _ := strconv.ParseBool(r.URL.Query().Get("all"))
	if name == "" && !all {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "name or all=true required"})
		return
	}
	if all {
		name = ""
	}
	n := h.q.Cancel(name)
	h.log.Info("debug: background tasks cancelled", logx.String("task", name), logx.Bool("all", all), logx.Int("count", n))
	writeJSON(w, http.StatusOK, map[string]int{"cancelled": n})
}

func (h *handlers) journal(w http.ResponseWriter, r *http.Request) {
	if h.j == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "journal disabled"})
		return
	}
	limit := defaultJournalLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}
	recs, err := h.j.Recent(r.Context(), limit)
	if err != nil {
		h.log.Warn("debug: journal read failed", logx.Err(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if recs == nil {
		recs = []journal.Record{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// bearerAuth accepts "Authorization: Bearer <token>" or "?token=<token>".
// An empty token disables the check.
func bearerAuth(token string) func(http.Handler) http.Handler {
	tok := strings.TrimSpace(token)
	return func(next http.Handler) http.Handler {
		if tok == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if got := r.URL.Query().Get("token"); got != "" {
				if got == tok {
					next.ServeHTTP(w, r)
					return
				}
				unauthorized(w)
				return
			}
			const p = "Bearer "
			if ah := r.Header.Get("Authorization"); strings.HasPrefix(ah, p) && strings.TrimSpace(strings.TrimPrefix(ah, p)) == tok {
				next.ServeHTTP(w, r)
				return
			}
			unauthorized(w)
		})
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	http.Error(w, "unauthorized", http.StatusUnauthorized)
}

func normalizePrefix(prefix string) string {
	p := strings.TrimSpace(prefix)
	if p == "" {
		p = "/debug/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if !strings.HasSuffix(p, "/") {
		p += "/"
	}
	return p
}

// pprof.Index only understands paths under /debug/pprof/, so rewrite before delegating.
func pprofIndexAt(canon string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r2 := r.Clone(r.Context())
		r2.URL.Path = "/debug/pprof/" + strings.TrimPrefix(r.URL.Path, canon)
		hpprof.Index(w, r2)
	}
}
