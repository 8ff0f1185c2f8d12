package httpapi

import (
	"encoding/json"
	"net/http"
)

// maxRequestBody caps request bodies. The largest payload (a scan with a
// 59-char encoded token) is well under 1 KiB, so 4 KiB is generous.
const maxRequestBody = 4096

type errorBody struct {
	OK      bool   `json:"ok"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{OK: false, Error: code, Message: message})
}
