package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/sells-group/distance-finder/internal/model"
)

type errorBody struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

// statusFor maps pipeline errors onto HTTP status codes.
func statusFor(err error) (int, string) {
	var (
		geomErr *model.GeometryError
		dsErr   *model.DataSourceError
	)
	switch {
	case errors.Is(err, model.ErrInvalidRequest):
		return http.StatusBadRequest, "invalid request"
	case errors.Is(err, model.ErrGeocodeNotFound):
		return http.StatusBadRequest, "location not found"
	case errors.As(err, &geomErr):
		return http.StatusUnprocessableEntity, "invalid geometry"
	case errors.As(err, &dsErr):
		return http.StatusBadGateway, "data source unavailable"
	case errors.Is(err, model.ErrQuotaExceeded):
		return http.StatusTooManyRequests, "quota exceeded"
	default:
		return http.StatusInternalServerError, "analysis failed"
	}
}

func writeError(w http.ResponseWriter, err error) {
	status, msg := statusFor(err)
	if status >= http.StatusInternalServerError {
		zap.L().Error("api: request failed", zap.Int("status", status), zap.Error(err))
	}
	writeJSON(w, status, errorBody{Error: msg, Detail: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("api: encode response", zap.Error(err))
	}
}

// geoInputError turns a GeoJSON decode failure into a validation error unless
// the input parsed but described bad geometry.
func geoInputError(field string, err error) error {
	var geomErr *model.GeometryError
	if errors.As(err, &geomErr) {
		return err
	}
	return model.Invalidf("%s is not valid GeoJSON: %v", field, err)
}
