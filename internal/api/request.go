package api

import (
	"encoding/json"
	"errors"
	"net/http"
)

// DecodeJSON reads the request body into v. On failure it writes the error
// response itself and returns false: 413 when the body limit was hit, 400
// otherwise.
func DecodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil {
		return true
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		Error(w, http.StatusRequestEntityTooLarge, "request body too large")
		return false
	}
	Error(w, http.StatusBadRequest, "invalid request body")
	return false
}
