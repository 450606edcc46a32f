package server

import (
	"crypto/subtle"
	"net/http"

	"github.com/meridian-search/meridian/pkg/errors"
)

// API key headers, compatible with the common client libraries. The query
// string fallback covers clients that cannot set headers.
const (
	headerAppID  = "X-Algolia-Application-Id"
	headerAPIKey = "X-Algolia-API-Key"
)

// adminKey gates write endpoints behind the admin key.
func (s *Server) adminKey(next http.HandlerFunc) http.HandlerFunc {
	return s.requireKey(next, false)
}

// searchKey gates read endpoints behind the search key or the admin key.
func (s *Server) searchKey(next http.HandlerFunc) http.HandlerFunc {
	return s.requireKey(next, true)
}

func (s *Server) requireKey(next http.HandlerFunc, allowSearchKey bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		auth := s.cfg.Auth
		// with no admin key configured the server runs open, for local use
		if auth.AdminKey == "" {
			next(w, r)
			return
		}

		appID := r.Header.Get(headerAppID)
		if appID == "" {
			appID = r.URL.Query().Get("x-algolia-application-id")
		}
		key := r.Header.Get(headerAPIKey)
		if key == "" {
			key = r.URL.Query().Get("x-algolia-api-key")
		}

		if auth.AppID != "" && appID != auth.AppID {
			s.writeError(w, r, errors.New(errors.ErrUnauthorized, 401, "invalid application id"))
			return
		}
		if keyEqual(key, auth.AdminKey) {
			next(w, r)
			return
		}
		if allowSearchKey && auth.SearchKey != "" && keyEqual(key, auth.SearchKey) {
			next(w, r)
			return
		}
		if key == "" {
			s.writeError(w, r, errors.New(errors.ErrUnauthorized, 401, "missing api key"))
			return
		}
		s.writeError(w, r, errors.New(errors.ErrForbidden, 403, "this key is not allowed to perform this operation"))
	}
}

func keyEqual(a, b string) bool {
	return len(a) == len(b) && subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
