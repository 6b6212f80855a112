package router

import (
	"encoding/json"
	"net/http"
)

// ErrorResponse is the JSON body written for failures outside the web script runtime
type ErrorResponse struct {
	Error  ErrorDetail `json:"error"`
	Status int         `json:"status"`
	Path   string      `json:"path,omitempty"`
	Method string      `json:"method,omitempty"`
}

// ErrorDetail describes a failure
type ErrorDetail struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// WriteError writes a JSON error response
func WriteError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	WriteErrorWithDetails(w, r, status, code, message, nil)
}

// WriteErrorWithDetails writes a JSON error response carrying details
func WriteErrorWithDetails(w http.ResponseWriter, r *http.Request, status int, code, message string, details map[string]any) {
	resp := ErrorResponse{
		Error:  ErrorDetail{Code: code, Message: message, Details: details},
		Status: status,
	}
	if r != nil {
		resp.Path = r.URL.Path
		resp.Method = r.Method
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

// NotFound writes a 404 response
func NotFound(w http.ResponseWriter, r *http.Request) {
	WriteError(w, r, http.StatusNotFound, "NOT_FOUND", "The requested resource was not found")
}

// MethodNotAllowed writes a 405 response
func MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	WriteError(w, r, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method "+r.Method+" is not allowed for this resource")
}

// Unauthorized writes a 401 response with a Basic challenge
func Unauthorized(w http.ResponseWriter, r *http.Request, message string) {
	w.Header().Set("WWW-Authenticate", `Basic realm="webscript"`)
	WriteError(w, r, http.StatusUnauthorized, "UNAUTHORIZED", message)
}

// Forbidden writes a 403 response
func Forbidden(w http.ResponseWriter, r *http.Request, message string) {
	WriteError(w, r, http.StatusForbidden, "FORBIDDEN", message)
}

// InternalServerError writes a 500 response; err is only exposed when showDetails is set
func InternalServerError(w http.ResponseWriter, r *http.Request, err error, showDetails bool) {
	var details map[string]any
	if showDetails && err != nil {
		details = map[string]any{"error": err.Error()}
	}
	WriteErrorWithDetails(w, r, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "An internal server error occurred", details)
}
