package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/ternarybob/maestro/internal/common"
)

// RequireMethod validates that the HTTP request uses the specified method.
// Returns true if the method matches, false otherwise (and writes error response).
func RequireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

// WriteJSON writes a JSON response with the specified status code and data.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(data)
}

// WriteSuccess writes a standard success JSON response.
func WriteSuccess(w http.ResponseWriter, message string) error {
	return WriteJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": message,
	})
}

// WriteError writes a standard error JSON response.
func WriteError(w http.ResponseWriter, statusCode int, message string) error {
	return WriteJSON(w, statusCode, map[string]string{
		"status": "error",
		"error":  message,
	})
}

// WriteErr translates a tagged error to its HTTP status. Untagged errors
// surface as 500 with a generic body so internals do not leak.
func WriteErr(w http.ResponseWriter, err error) error {
	kind := common.KindOf(err)
	message := err.Error()
	if kind == common.KindInternal {
		message = "internal error"
	}
	return WriteJSON(w, kind.HTTPStatus(), map[string]string{
		"status": "error",
		"kind":   string(kind),
		"error":  message,
	})
}

// DecodeJSON parses a request body into dst, rejecting unknown garbage with
// a validation error.
func DecodeJSON(r *http.Request, dst interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return common.WrapError(common.KindValidation, err, "invalid request body")
	}
	return nil
}

// GetLimitOffset extracts list pagination from the query string.
// Defaults to limit 50, capped at 200.
func GetLimitOffset(r *http.Request) (limit, offset int) {
	limit = 50
	if s := r.URL.Query().Get("limit"); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v > 0 && v <= 200 {
			limit = v
		}
	}
	if s := r.URL.Query().Get("offset"); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v >= 0 {
			offset = v
		}
	}
	return limit, offset
}

// PathParts splits the request path after a prefix into its segments.
// PathParts("/api/jobs/123/cancel", "/api/jobs/") -> ["123", "cancel"].
func PathParts(path, prefix string) []string {
	rest := strings.TrimPrefix(path, prefix)
	rest = strings.Trim(rest, "/")
	if rest == "" {
		return nil
	}
	return strings.Split(rest, "/")
}
