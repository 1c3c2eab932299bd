package api

import (
	"encoding/json"
	"net/http"
)

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

type errorBody struct {
	Detail string `json:"detail"`
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorBody{Detail: err.Error()})
}

// WriteError renders an error in the API's JSON shape. Middleware outside
// this package uses it so error bodies stay uniform.
func WriteError(w http.ResponseWriter, status int, err error) {
	writeError(w, status, err)
}
