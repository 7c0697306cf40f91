package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/LucaDeLeo/realitycam/internal/apierr"
)

// meta is the envelope metadata attached to every response, per spec.md
// §6: "all responses wrap either data or error alongside meta
// {request_id, timestamp}".
type meta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

type dataEnvelope struct {
	Data any  `json:"data"`
	Meta meta `json:"meta"`
}

type errorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
	Meta  meta      `json:"meta"`
}

func writeData(w http.ResponseWriter, r *http.Request, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(dataEnvelope{
		Data: data,
		Meta: meta{RequestID: requestIDFromContext(r.Context()), Timestamp: time.Now()},
	})
}

// writeError maps err to its apierr Kind's HTTP status and writes the
// envelope. Internal details are never included — only the Kind's
// generic label and the Error's caller-facing Message (never the wrapped
// cause), per spec.md §7's propagation policy.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apierr.KindOf(err)
	status := kind.HTTPStatus()

	message := kind.String()
	if apiErr, ok := apierr.As(err); ok && apiErr.Message != "" {
		message = apiErr.Message
	}
	if status == http.StatusInternalServerError {
		message = "internal error"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorEnvelope{
		Error: errorBody{Kind: kind.String(), Message: message},
		Meta:  meta{RequestID: requestIDFromContext(r.Context()), Timestamp: time.Now()},
	})
}
