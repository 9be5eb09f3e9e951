package routes

import (
	"encoding/json"
	"fmt"
	"net/http"

	"physio/physio/controllers"
	"physio/physio/utils/logging"
	"physio/physio/utils/types"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

func handleJSON(handler func(r *http.Request) (any, int, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, status, err := handler(r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, status, res)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError answers {"error": ...}; server faults are logged and not echoed.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := controllers.StatusFor(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		logging.ErrorLogger.Error("request failed",
			zap.String("trace_id", middleware.GetReqID(r.Context())),
			zap.String("path", r.URL.Path), zap.Int("status", status), zap.Error(err))
		if status == http.StatusInternalServerError {
			msg = "internal error"
		}
	}
	writeJSON(w, status, types.ErrorResponse{Error: msg})
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return badRequest(err)
	}
	return nil
}

func badRequest(err error) error {
	return fmt.Errorf("%w: %v", controllers.ErrInvalidInput, err)
}
