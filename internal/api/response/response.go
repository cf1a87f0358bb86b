// Package response writes the JSON envelopes every endpoint answers with.
package response

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// payload is the success envelope. Meta is set only for collections.
type payload struct {
	Data any             `json:"data"`
	Meta *CollectionMeta `json:"meta,omitempty"`
}

type failure struct {
	Error Problem `json:"error"`
}

// Problem is the body of an error envelope.
type Problem struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type CollectionMeta struct {
	Total int `json:"total"`
}

func JSON(w http.ResponseWriter, data any) {
	write(w, http.StatusOK, payload{Data: data})
}

func Created(w http.ResponseWriter, data any) {
	write(w, http.StatusCreated, payload{Data: data})
}

// Collection writes a list together with its size.
func Collection(w http.ResponseWriter, data any, total int) {
	write(w, http.StatusOK, payload{Data: data, Meta: &CollectionMeta{Total: total}})
}

func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

func Error(w http.ResponseWriter, status int, code, message string, details any) {
	write(w, status, failure{Error: Problem{Code: code, Message: message, Details: details}})
}

func write(w http.ResponseWriter, status int, body any) {
	h := w.Header()
	h.Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Warn("encode response", "status", status, "error", err)
	}
}
