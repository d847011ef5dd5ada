package http

import (
	"errors"
	"net/http"

	"github.com/mind-engage/bandcore/internal/apperr"
	"github.com/mind-engage/bandcore/internal/auth"
)

type Authenticator interface {
	Authenticate(username, password string) (auth.Identity, error)
}

// LoginHandler exchanges local credentials for a bearer token.
func LoginHandler(creds Authenticator, tokens *auth.AuthService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Username string `json:"username"`
			Password string `json:"password"`
		}
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		id, err := creds.Authenticate(req.Username, req.Password)
		if errors.Is(err, auth.ErrInvalidCredentials) {
			writeError(w, r, apperr.Auth("invalid credentials"))
			return
		}
		if err != nil {
			writeError(w, r, err)
			return
		}
		tok, err := tokens.IssueJWT(id.Subject, string(id.Role))
		if err != nil {
			writeError(w, r, apperr.Internal(err, "issue token"))
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"access_token": tok,
			"token_type":   "Bearer",
			"role":         id.Role,
		})
	}
}
