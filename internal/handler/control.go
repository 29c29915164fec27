package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"potholecam/internal/dto"
	"potholecam/internal/logger"
	"potholecam/internal/model"
	"potholecam/internal/service"
)

// SessionHandler returns the current session snapshot.
func SessionHandler(manager *service.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap, err := manager.Snapshot(r.Context())
		if err != nil {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, snap)
	}
}

// StartHandler starts capture.
func StartHandler(manager *service.Manager, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := manager.Start(r.Context()); err != nil {
			logger.Error("Failed to start capture: %v", err)
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		SessionHandler(manager)(w, r)
	}
}

// StopHandler stops capture.
func StopHandler(manager *service.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := manager.Stop(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		SessionHandler(manager)(w, r)
	}
}

// ToggleHandler flips capture on or off.
func ToggleHandler(manager *service.Manager, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, err := manager.Toggle(r.Context()); err != nil {
			logger.Error("Failed to toggle capture: %v", err)
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		SessionHandler(manager)(w, r)
	}
}

// LocationHandler sets or clears the geolocation attached to new records.
func LocationHandler(manager *service.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req dto.LocationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}

		var loc *model.Location
		switch {
		case req.Latitude == nil && req.Longitude == nil:
		case req.Latitude == nil || req.Longitude == nil:
			writeError(w, http.StatusBadRequest, "latitude and longitude must be set together")
			return
		case *req.Latitude < -90 || *req.Latitude > 90 || *req.Longitude < -180 || *req.Longitude > 180:
			writeError(w, http.StatusBadRequest, "coordinates out of range")
			return
		default:
			loc = &model.Location{Latitude: *req.Latitude, Longitude: *req.Longitude}
		}

		if err := manager.SetLocation(r.Context(), loc); err != nil {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		SessionHandler(manager)(w, r)
	}
}

// EndpointHandler changes the inference endpoint.
func EndpointHandler(manager *service.Manager, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req dto.EndpointRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}

		err := manager.SetEndpoint(r.Context(), req.Endpoint)
		if errors.Is(err, service.ErrInvalidEndpoint) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err != nil {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		SessionHandler(manager)(w, r)
	}
}

// InferenceHealthHandler pings the inference endpoint.
func InferenceHealthHandler(manager *service.Manager, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		endpoint, err := manager.PingEndpoint(r.Context())
		if err != nil {
			logger.Warning("Inference endpoint %s unreachable: %v", endpoint, err)
			writeJSON(w, http.StatusBadGateway, map[string]interface{}{
				"endpoint":  endpoint,
				"reachable": false,
				"error":     err.Error(),
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"endpoint":  endpoint,
			"reachable": true,
		})
	}
}
