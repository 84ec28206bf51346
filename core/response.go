// Package core provides the JSON response and HTTP error helpers shared by
// the HTTP modules.
package core

import (
	"encoding/json"
	"net/http"
)

// Response renders itself onto an http.ResponseWriter.
type Response interface {
	Render(w http.ResponseWriter, r *http.Request) error
}

// JSONResponse is the standard JSON envelope.
type JSONResponse struct {
	Data  any          `json:"data,omitempty"`
	Error *ErrorDetail `json:"error,omitempty"`
}

// ErrorDetail contains error information.
type ErrorDetail struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

type jsonResponse struct {
	status int
	body   JSONResponse
}

func (j jsonResponse) Render(w http.ResponseWriter, r *http.Request) error {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(j.status)
	return json.NewEncoder(w).Encode(j.body)
}

// JSON creates a 200 JSON response wrapping data.
func JSON(data any) Response {
	return jsonResponse{
		status: http.StatusOK,
		body:   JSONResponse{Data: data},
	}
}

// JSONError creates a JSON error response. HTTPError values map to their
// status code; anything else renders as a generic internal error so internal
// details never leak to clients.
func JSONError(err error) Response {
	status := http.StatusInternalServerError
	code := "internal_error"

	if httpErr, ok := err.(HTTPError); ok {
		status = httpErr.Code
		code = httpErr.Key
	}

	return jsonResponse{
		status: status,
		body: JSONResponse{
			Error: &ErrorDetail{
				Code:    code,
				Message: http.StatusText(status),
			},
		},
	}
}

// Render writes the response, falling back to a bare 500 when rendering
// itself fails.
func Render(w http.ResponseWriter, r *http.Request, resp Response) {
	if err := resp.Render(w, r); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}
