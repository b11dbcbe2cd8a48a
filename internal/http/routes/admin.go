package routes

import (
	"errors"
	"io"
	"net/http"
	"net/url"
	"runtime"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog/hlog"

	"github.com/briangreenhill/screenshelf/internal/jobs"
	"github.com/briangreenhill/screenshelf/internal/servercache"
)

type memoryStats struct {
	Alloc      string `json:"alloc"`
	AllocBytes uint64 `json:"allocBytes"`
	Sys        string `json:"sys"`
	HeapInUse  string `json:"heapInUse"`
	NumGC      uint32 `json:"numGC"`
	Goroutines int    `json:"goroutines"`
}

type upstreamStatus struct {
	Configured bool   `json:"configured"`
	Breaker    string `json:"breaker,omitempty"`
}

type healthResponse struct {
	Status        string            `json:"status"`
	Environment   string            `json:"environment"`
	UptimeSeconds int64             `json:"uptimeSeconds"`
	Memory        memoryStats       `json:"memory"`
	Cache         servercache.Stats `json:"cache"`
	Upstream      upstreamStatus    `json:"upstream"`
	Timestamp     string            `json:"timestamp"`
}

// handleHealth always answers 200; a down cache shows as connected=false
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	resp := healthResponse{
		Status:        "ok",
		Environment:   s.appEnv,
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
		Memory: memoryStats{
			Alloc:      humanize.Bytes(ms.Alloc),
			AllocBytes: ms.Alloc,
			Sys:        humanize.Bytes(ms.Sys),
			HeapInUse:  humanize.Bytes(ms.HeapInuse),
			NumGC:      ms.NumGC,
			Goroutines: runtime.NumGoroutine(),
		},
		Cache:     s.Cache.Stats(r.Context()),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if !resp.Cache.Connected {
		resp.Status = "degraded"
	}
	if c, err := s.TMDB.GetOrCreate(); err == nil {
		resp.Upstream = upstreamStatus{Configured: true, Breaker: c.BreakerState()}
	}

	w.Header().Set("Cache-Control", "no-store")
	respondData(w, r, http.StatusOK, resp)
}

func (s *Server) handleClearCache(w http.ResponseWriter, r *http.Request) {
	if !s.Cache.Clear(r.Context()) {
		respondError(w, r, http.StatusServiceUnavailable, CodeCacheUnavailable, "the cache store is unavailable")
		return
	}
	hlog.FromRequest(r).Info().Str("namespace", s.Cache.Namespace()).Msg("server cache cleared")
	respondData(w, r, http.StatusOK, map[string]any{"cleared": true})
}

func (s *Server) handleDeleteCacheKey(w http.ResponseWriter, r *http.Request) {
	key, err := url.PathUnescape(chi.URLParam(r, "*"))
	if err != nil || key == "" {
		respondError(w, r, http.StatusBadRequest, CodeBadRequest, "a cache key is required")
		return
	}
	if !strings.HasPrefix(key, s.Cache.Namespace()+":") {
		respondError(w, r, http.StatusBadRequest, CodeBadRequest, "key is outside the cache namespace")
		return
	}
	if !s.Cache.Connected() {
		respondError(w, r, http.StatusServiceUnavailable, CodeCacheUnavailable, "the cache store is unavailable")
		return
	}
	if !s.Cache.Delete(r.Context(), key) {
		respondError(w, r, http.StatusNotFound, CodeNotFound, "no such cache key")
		return
	}
	respondData(w, r, http.StatusOK, map[string]any{"deleted": key})
}

type warmRequest struct {
	Lists []string `json:"lists"`
	Pages int      `json:"pages"`
}

type warmResponse struct {
	TaskID string `json:"taskId"`
	Queue  string `json:"queue"`
}

// handleWarm enqueues a cache warm run. Identical requests within a minute
// collapse into one task.
func (s *Server) handleWarm(w http.ResponseWriter, r *http.Request) {
	if s.Enqueuer == nil {
		respondError(w, r, http.StatusServiceUnavailable, CodeUpstreamUnavailable, "cache warming is not enabled")
		return
	}

	var req warmRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 64<<10)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, r, http.StatusBadRequest, CodeBadRequest, "invalid JSON body")
		return
	}

	task, err := jobs.NewWarmCacheTask(jobs.WarmCachePayload{Lists: req.Lists, Pages: req.Pages}, asynq.Unique(time.Minute))
	if err != nil {
		respondError(w, r, http.StatusBadRequest, CodeBadRequest, err.Error())
		return
	}

	info, err := s.Enqueuer.EnqueueContext(r.Context(), task)
	switch {
	case errors.Is(err, asynq.ErrDuplicateTask):
		respondError(w, r, http.StatusConflict, CodeConflict, "a warm run with these options is already queued")
		return
	case err != nil:
		hlog.FromRequest(r).Error().Err(err).Msg("enqueue warm task")
		respondError(w, r, http.StatusServiceUnavailable, CodeUpstreamUnavailable, "failed to enqueue warm task")
		return
	}

	hlog.FromRequest(r).Info().Str("task_id", info.ID).Str("queue", info.Queue).Msg("enqueued warm task")
	respondData(w, r, http.StatusAccepted, warmResponse{TaskID: info.ID, Queue: info.Queue})
}
