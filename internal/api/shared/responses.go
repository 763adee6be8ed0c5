package shared

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/phrazzld/labelling-task/internal/platform/logger"
	"github.com/phrazzld/labelling-task/internal/redact"
)

// Envelope status values.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// DefaultSuccessMessage is used when a handler does not supply one.
const DefaultSuccessMessage = "request processed successfully"

// Envelope is the body of every JSON response. Timestamp is Unix milliseconds.
type Envelope struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	Data      any    `json:"data,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// now is replaced in tests.
var now = time.Now

// Success wraps data in a success envelope.
func Success(data any, message string) Envelope {
	if message == "" {
		message = DefaultSuccessMessage
	}
	return Envelope{Status: StatusSuccess, Message: message, Data: data, Timestamp: now().UnixMilli()}
}

// Failure builds a failure envelope.
func Failure(message string) Envelope {
	return Envelope{Status: StatusFailure, Message: message, Timestamp: now().UnixMilli()}
}

// RespondWithJSON writes a JSON response with the given status code and data.
func RespondWithJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.FromContext(r.Context()).Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// RespondSuccess writes data in a success envelope.
func RespondSuccess(w http.ResponseWriter, r *http.Request, status int, data any, message string) {
	RespondWithJSON(w, r, status, Success(data, message))
}

// RespondWithError writes a failure envelope with the given status code and
// message.
func RespondWithError(w http.ResponseWriter, r *http.Request, status int, message string) {
	logger.FromContext(r.Context()).Debug("sending error response",
		slog.Int("status_code", status),
		slog.String("message", message),
		slog.String("request_id", middleware.GetReqID(r.Context())),
		slog.String("path", r.URL.Path),
		slog.String("method", r.Method))

	RespondWithJSON(w, r, status, Failure(message))
}

// RespondWithErrorAndLog writes a failure envelope carrying only
// userMessage and logs err, redacted. Server errors are logged at ERROR and
// client errors at DEBUG, except 401 and 403 which are logged at WARN.
func RespondWithErrorAndLog(w http.ResponseWriter, r *http.Request, status int, userMessage string, err error) {
	attrs := []slog.Attr{
		slog.String("request_id", middleware.GetReqID(r.Context())),
		slog.String("path", r.URL.Path),
		slog.String("method", r.Method),
		slog.Int("status_code", status),
		slog.String("user_message", userMessage),
	}
	if err != nil {
		attrs = append(attrs,
			slog.String("error", redact.Error(err)),
			slog.String("error_type", fmt.Sprintf("%T", err)))
	}

	level := slog.LevelDebug
	switch {
	case status >= http.StatusInternalServerError:
		level = slog.LevelError
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		level = slog.LevelWarn
	}
	logger.FromContext(r.Context()).LogAttrs(r.Context(), level, "API error response", attrs...)

	RespondWithJSON(w, r, status, Failure(userMessage))
}
