package middleware

import (
	"net/http"

	"github.com/gorilla/mux"
)

// PlatformFromRequest returns the {platform} route variable, or "unknown"
// when the route carries none. Used for metric and log labels only; handlers
// validate the value themselves.
func PlatformFromRequest(r *http.Request) string {
	if platform, ok := mux.Vars(r)["platform"]; ok && platform != "" {
		return platform
	}
	return "unknown"
}
