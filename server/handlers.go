package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/itsneelabh/apiflow/catalog"
	"github.com/itsneelabh/apiflow/core"
	"github.com/itsneelabh/apiflow/orchestration"
)

const maxBodyBytes = 1 << 20

type errorResponse struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message, requestID string) {
	writeJSON(w, status, errorResponse{Status: "error", Message: message, RequestID: requestID})
}

// statusFor maps an orchestration error onto an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrInvalidRequest),
		errors.Is(err, core.ErrMalformedLLMOutput),
		errors.Is(err, core.ErrInvalidPlan):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrUpstreamHTTP):
		return http.StatusBadGateway
	case core.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, core.ErrTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// bearerToken extracts the token of an "Authorization: Bearer" header.
func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}

func (s *Server) handleProcessRequest(w http.ResponseWriter, r *http.Request) {
	requestID := RequestIDFromContext(r.Context())

	var req orchestration.Request
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error(), requestID)
		return
	}
	if strings.TrimSpace(req.UserEmail) == "" {
		writeError(w, http.StatusBadRequest, "userEmail is required", requestID)
		return
	}
	if req.AuthToken == "" {
		req.AuthToken = bearerToken(r)
	}
	req.RequestID = requestID

	result, err := s.processor.ProcessRequest(r.Context(), req)
	if err != nil {
		status := statusFor(err)
		s.logger.Warn("Request processing failed", map[string]interface{}{
			"operation":  "process_request",
			"request_id": requestID,
			"status":     status,
			"error":      err.Error(),
		})
		writeError(w, status, err.Error(), requestID)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleListEndpoints(w http.ResponseWriter, r *http.Request) {
	if s.catalog == nil {
		writeError(w, http.StatusNotImplemented, "endpoint catalog not configured", RequestIDFromContext(r.Context()))
		return
	}
	endpoints, err := s.catalog.GetAll(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), RequestIDFromContext(r.Context()))
		return
	}
	if endpoints == nil {
		endpoints = []catalog.EndpointDescriptor{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"endpoints": endpoints,
		"count":     len(endpoints),
	})
}

func (s *Server) handleUpdateEndpoints(w http.ResponseWriter, r *http.Request) {
	requestID := RequestIDFromContext(r.Context())
	if s.catalog == nil {
		writeError(w, http.StatusNotImplemented, "endpoint catalog not configured", requestID)
		return
	}

	var body struct {
		SwaggerURL string `json:"swagger_url"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error(), requestID)
			return
		}
	}
	swaggerURL := body.SwaggerURL
	if swaggerURL == "" {
		swaggerURL = s.swaggerURL
	}
	if swaggerURL == "" {
		writeError(w, http.StatusBadRequest, "swagger_url is required", requestID)
		return
	}

	count, err := s.catalog.Sync(r.Context(), swaggerURL)
	if err != nil {
		s.logger.Error("Endpoint sync failed", map[string]interface{}{
			"operation":   "update_endpoints",
			"request_id":  requestID,
			"swagger_url": swaggerURL,
			"error":       err.Error(),
		})
		writeError(w, http.StatusBadGateway, err.Error(), requestID)
		return
	}
	s.logger.Info("Endpoints updated", map[string]interface{}{
		"operation":  "update_endpoints",
		"request_id": requestID,
		"count":      count,
	})
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "success",
		"count":  count,
	})
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	record, err := s.history.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		status := http.StatusInternalServerError
		if core.IsNotFound(err) {
			status = http.StatusNotFound
		}
		writeError(w, status, err.Error(), RequestIDFromContext(r.Context()))
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleListHistory(w http.ResponseWriter, r *http.Request) {
	user := r.URL.Query().Get("user")
	if user == "" {
		writeError(w, http.StatusBadRequest, "user query parameter is required", RequestIDFromContext(r.Context()))
		return
	}
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	records, err := s.history.ListByUser(r.Context(), user, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), RequestIDFromContext(r.Context()))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"records": records,
		"count":   len(records),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}
