package auth

import (
	"encoding/json"
	"net/http"

	"github.com/igel-oss/rcar-du-vdrm/internal/models"
)

const (
	apiKeyHeader     = "X-API-Key"
	apiKeyQueryParam = "api-key"
)

// Middleware returns an http.Handler middleware that enforces authentication.
// In open mode (no access key configured), all requests pass through.
// Otherwise the key comes from the X-API-Key header or the api-key query
// parameter, and viewers may only read.
func (s *Service) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.IsOpenMode() {
			next.ServeHTTP(w, r)
			return
		}

		key := r.Header.Get(apiKeyHeader)
		if key == "" {
			key = r.URL.Query().Get(apiKeyQueryParam)
		}
		role, ok := s.Lookup(key)
		if !ok {
			deny(w, models.ErrUnauthorized("missing or invalid api key"))
			return
		}
		if role != RoleAdmin && r.Method != http.MethodGet && r.Method != http.MethodHead {
			deny(w, models.ErrForbidden("read-only api key"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func deny(w http.ResponseWriter, appErr *models.AppError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(appErr.Status)
	_ = json.NewEncoder(w).Encode(appErr)
}
