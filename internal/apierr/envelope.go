package apierr

import (
	"encoding/json"
	"net/http"
	"time"
)

// Meta is attached to every response, success or failure.
type Meta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// Envelope is the wire shape of every HTTP response: exactly one of Data or
// Error is populated.
type Envelope struct {
	Data  any    `json:"data,omitempty"`
	Error *Body  `json:"error,omitempty"`
	Meta  Meta   `json:"meta"`
}

// Body is the JSON shape of the "error" field.
type Body struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// WriteData writes a successful envelope with the given HTTP status.
func WriteData(w http.ResponseWriter, requestID string, status int, data any) {
	writeEnvelope(w, status, Envelope{
		Data: data,
		Meta: Meta{RequestID: requestID, Timestamp: time.Now().UTC()},
	})
}

// WriteError writes a failure envelope, mapping err's Kind to an HTTP
// status per spec.md §7. Unknown error types are reported as Internal.
func WriteError(w http.ResponseWriter, requestID string, err error) {
	kind := KindOf(err)
	msg := err.Error()
	if e, ok := As(err); ok {
		msg = e.Message
	}
	if kind == Internal || kind == DatabaseError || kind == StorageError || kind == ProcessingFailed {
		// Never leak internal detail to the client.
		msg = "internal error"
	}
	writeEnvelope(w, kind.HTTPStatus(), Envelope{
		Error: &Body{Kind: kind.String(), Message: msg},
		Meta:  Meta{RequestID: requestID, Timestamp: time.Now().UTC()},
	})
}

func writeEnvelope(w http.ResponseWriter, status int, env Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(env)
}
