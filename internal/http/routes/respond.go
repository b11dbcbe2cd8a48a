package routes

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strconv"

	"github.com/go-playground/validator/v10"
	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/hlog"

	"github.com/briangreenhill/screenshelf/tmdb"
)

const (
	CodeBadRequest          = "BAD_REQUEST"
	CodeNotFound            = "NOT_FOUND"
	CodeUpstreamError       = "UPSTREAM_ERROR"
	CodeUpstreamUnavailable = "UPSTREAM_UNAVAILABLE"
	CodeCacheUnavailable    = "CACHE_UNAVAILABLE"
	CodeConflict            = "CONFLICT"
	CodeInternal            = "INTERNAL_ERROR"
)

type envelope struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *errorBody `json:"error,omitempty"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("write response")
	}
}

func respondData(w http.ResponseWriter, r *http.Request, status int, data any) {
	writeJSON(w, r, status, envelope{Success: true, Data: data})
}

func respondError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, r, status, envelope{Error: &errorBody{Code: code, Message: message}})
}

// respondUpstream writes a catalogue response with the freshness headers of
// its category, or maps the upstream failure to a status
func (s *Server) respondUpstream(w http.ResponseWriter, r *http.Request, endpoint string, data any, err error) {
	if err != nil {
		s.respondUpstreamError(w, r, err)
		return
	}
	p := s.Policies.Lookup(endpoint)
	w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d, stale-while-revalidate=%d",
		int(p.StaleAfter.Seconds()), int(p.StaleWhileRevalidate().Seconds())))
	respondData(w, r, http.StatusOK, data)
}

func (s *Server) respondUpstreamError(w http.ResponseWriter, r *http.Request, err error) {
	var apiErr *tmdb.APIError
	switch {
	case errors.Is(err, tmdb.ErrCircuitOpen):
		respondError(w, r, http.StatusServiceUnavailable, CodeUpstreamUnavailable, "the metadata provider is temporarily unavailable")
	case errors.As(err, &apiErr) && apiErr.NotFound():
		respondError(w, r, http.StatusNotFound, CodeNotFound, apiErr.Message)
	case errors.As(err, &apiErr):
		hlog.FromRequest(r).Warn().Int("upstream_status", apiErr.StatusCode).Str("upstream_path", apiErr.Path).Msg(apiErr.Message)
		respondError(w, r, http.StatusBadGateway, CodeUpstreamError, apiErr.Message)
	case errors.Is(err, context.Canceled):
		// client went away; nothing useful to send
		hlog.FromRequest(r).Debug().Err(err).Msg("request canceled")
	default:
		hlog.FromRequest(r).Error().Err(err).Msg("upstream request failed")
		respondError(w, r, http.StatusBadGateway, CodeUpstreamError, "failed to reach the metadata provider")
	}
}

// upstream returns the shared provider client, building it on first use
func (s *Server) upstream(w http.ResponseWriter, r *http.Request) (*tmdb.Client, bool) {
	c, err := s.TMDB.GetOrCreate()
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("tmdb client unavailable")
		respondError(w, r, http.StatusServiceUnavailable, CodeUpstreamUnavailable, "the metadata provider is not configured")
		return nil, false
	}
	return c, true
}

// newValidator reports fields by their query parameter names
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		if name := f.Tag.Get("query"); name != "" {
			return name
		}
		return f.Name
	})
	return v
}

// check validates q and writes a 400 on failure
func (s *Server) check(w http.ResponseWriter, r *http.Request, q any) bool {
	err := s.validate.Struct(q)
	if err == nil {
		return true
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		respondError(w, r, http.StatusBadRequest, CodeBadRequest, err.Error())
		return false
	}
	fe := verrs[0]
	respondError(w, r, http.StatusBadRequest, CodeBadRequest, fieldMessage(fe))
	return false
}

func fieldMessage(fe validator.FieldError) string {
	name := fe.Field()
	switch fe.Tag() {
	case "required":
		return name + " is required"
	case "min":
		return fmt.Sprintf("%s must be at least %s", name, fe.Param())
	case "max":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("%s must be at most %s characters", name, fe.Param())
		}
		return fmt.Sprintf("%s must be at most %s", name, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", name, fe.Param())
	default:
		return fmt.Sprintf("%s is invalid", name)
	}
}

// intParam reads an integer query parameter, using def when it is absent
func intParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", name)
	}
	return n, nil
}
