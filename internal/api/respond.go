package api

import (
	"encoding/json"
	"net/http"
)

// Every JSON response except /ask carries a success flag; failures add a
// human-readable message. Real status codes accompany the envelope.

func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func respondSuccess(w http.ResponseWriter) {
	respondJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

func respondSuccessMessage(w http.ResponseWriter, message string) {
	respondJSON(w, http.StatusOK, map[string]interface{}{"success": true, "message": message})
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]interface{}{"success": false, "message": message})
}
