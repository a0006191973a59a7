// Package handlers exposes the broker over HTTP.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"whatsapp-broker/internal/apperr"
	"whatsapp-broker/internal/repository"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
)

const maxJSONBody = 1 << 20

type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

// pageMeta accompanies paginated results.
type pageMeta struct {
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
	Total int64 `json:"total"`
}

type pagedData struct {
	Items      any      `json:"items"`
	Pagination pageMeta `json:"pagination"`
}

func respondJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func respondData(w http.ResponseWriter, statusCode int, data any) {
	respondJSON(w, statusCode, envelope{Success: true, Data: data})
}

func respondMessage(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, envelope{Success: statusCode < 400, Message: message})
}

func respondPage(w http.ResponseWriter, items any, page repository.Page, total int64) {
	respondData(w, http.StatusOK, pagedData{
		Items:      items,
		Pagination: pageMeta{Page: page.Number, Limit: page.Size, Total: total},
	})
}

// respondError maps err to a status code. Unclassified errors are logged
// and answered without detail.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperr.HTTPStatus(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("Request failed")
		message = "internal server error"
	} else {
		log.Debug().Err(err).Int("status", status).Str("path", r.URL.Path).Msg("Request rejected")
	}
	respondMessage(w, status, message)
}

// NotFound answers unknown routes.
func NotFound(w http.ResponseWriter, r *http.Request) {
	respondMessage(w, http.StatusNotFound, fmt.Sprintf("Route %s %s not found", r.Method, r.URL.Path))
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return apperr.Validation("request body is required")
		}
		return apperr.Validation("invalid JSON body: %v", err)
	}
	return nil
}

func pathID(r *http.Request, name string) (uint, error) {
	raw := mux.Vars(r)[name]
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, apperr.Validation("invalid %s %q", name, raw)
	}
	return uint(id), nil
}

// pageFromQuery reads ?page= and ?limit=; bad values fall back to defaults.
func pageFromQuery(r *http.Request) repository.Page {
	q := r.URL.Query()
	page := repository.Page{Number: 1, Size: repository.DefaultPageSize}
	if n, err := strconv.Atoi(q.Get("page")); err == nil && n > 0 {
		page.Number = n
	}
	if n, err := strconv.Atoi(q.Get("limit")); err == nil && n > 0 {
		page.Size = min(n, repository.MaxPageSize)
	}
	return page
}

type tagsRequest struct {
	Tags []string `json:"tags"`
}
