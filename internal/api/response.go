package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/BTreeMap/NudgePipe/internal/models"
)

// Pre-marshaled fallback response for when encoding the real one fails.
var fallbackErrorResponse []byte

func init() {
	var err error
	fallbackErrorResponse, err = json.Marshal(models.Error("Internal server error"))
	if err != nil {
		panic(fmt.Sprintf("Failed to marshal fallback error response at startup: %v", err))
	}
}

// writeJSONResponse writes a JSON response with the given status code.
func writeJSONResponse(w http.ResponseWriter, statusCode int, response interface{}) {
	// Marshal first so encoding errors surface before headers are written.
	jsonData, err := json.Marshal(response)
	if err != nil {
		slog.Error("Server.writeJSONResponse: failed to marshal JSON response", "error", err)
		jsonData = fallbackErrorResponse
		statusCode = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, writeErr := w.Write(jsonData); writeErr != nil {
		slog.Error("Server.writeJSONResponse: failed to write JSON response", "error", writeErr)
	}
}

// writeEngineError maps engine errors to 400, 404 or 500.
func writeEngineError(w http.ResponseWriter, op string, err error) {
	var validation *models.ValidationError
	var notFound *models.NotFoundError
	switch {
	case errors.As(err, &validation):
		slog.Debug("Server: validation failed", "op", op, "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(validation.UserMessage()))
	case errors.As(err, &notFound):
		slog.Debug("Server: not found", "op", op, "error", err)
		writeJSONResponse(w, http.StatusNotFound, models.Error(notFound.UserMessage()))
	default:
		slog.Error("Server: operation failed", "op", op, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Internal server error"))
	}
}

// decodeJSON decodes an optional request body into v. An empty body leaves v unchanged.
func decodeJSON(r *http.Request, v interface{}) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
