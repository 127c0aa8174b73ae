package response

import (
	"encoding/json"
	"net/http"
)

// V1Response is the wire envelope for all API responses
type V1Response struct {
	Result   interface{} `json:"result"`
	Messages []string    `json:"messages"`
}

// WriteResponse will write the result as a JSON envelope with HTTP 200
func WriteResponse(w http.ResponseWriter, r *http.Request, result interface{}, msgs ...string) {
	if msgs == nil {
		msgs = make([]string, 0)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(V1Response{
		Result:   result,
		Messages: msgs,
	})
}

// WriteError will write the structured Error as a JSON envelope with its status code
func WriteError(w http.ResponseWriter, r *http.Request, e *Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.StatusCode)
	json.NewEncoder(w).Encode(V1Response{
		Result:   e.Result,
		Messages: append([]string{e.Message}, e.Messages...),
	})
}
