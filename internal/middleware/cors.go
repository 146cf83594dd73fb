package middleware

import (
	"net/http"
	"slices"
	"strings"

	"github.com/gin-gonic/gin"
)

// OriginChecker reports whether a request's Origin is in origins. An empty
// list allows every origin, as does a "*" entry. Requests without an Origin
// header come from non-browser clients and are allowed.
func OriginChecker(origins []string) func(*http.Request) bool {
	allowed := make(map[string]struct{}, len(origins))
	allowAll := len(origins) == 0
	for _, o := range origins {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o == "*" {
			allowAll = true
		}
		allowed[strings.ToLower(o)] = struct{}{}
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if allowAll || origin == "" {
			return true
		}
		_, ok := allowed[strings.ToLower(origin)]
		return ok
	}
}

// CORS sets the cross-origin headers for origins and answers preflight requests
func CORS(origins []string) gin.HandlerFunc {
	check := OriginChecker(origins)
	wildcard := len(origins) == 0 || slices.Contains(origins, "*")

	return func(c *gin.Context) {
		h := c.Writer.Header()
		switch origin := c.GetHeader("Origin"); {
		case wildcard:
			h.Set("Access-Control-Allow-Origin", "*")
		case origin != "" && check(c.Request):
			h.Set("Access-Control-Allow-Origin", origin)
			h.Add("Vary", "Origin")
		}
		h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
