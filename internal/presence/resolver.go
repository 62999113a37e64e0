package presence

import (
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// Handshake parameter and cookie names read by the Resolver.
const (
	ParamUserID = "userId"
	ParamToken  = "token"
	CookieToken = "jwt"
)

// TokenVerifier turns a signed identity token into a user id.
type TokenVerifier interface {
	UserIDFromToken(token string) (string, error)
}

// Resolver extracts the user id of a connection from its upgrade request.
type Resolver struct {
	verifier    TokenVerifier
	trustUserID bool
}

// NewResolver returns a Resolver. When trustUserID is set, a bare userId
// query parameter is accepted without a token.
func NewResolver(verifier TokenVerifier, trustUserID bool) *Resolver {
	return &Resolver{verifier: verifier, trustUserID: trustUserID}
}

// Resolve returns the user id carried by the handshake. ok is false when the
// connection should stay anonymous. A valid token always wins over the bare
// userId parameter; an invalid token makes the connection anonymous.
func (r *Resolver) Resolve(req *http.Request) (userID string, ok bool) {
	if req == nil {
		return "", false
	}

	if token := handshakeToken(req); token != "" && r.verifier != nil {
		id, err := r.verifier.UserIDFromToken(token)
		if err != nil {
			zap.S().Debugw("handshake token rejected",
				"remote_addr", req.RemoteAddr,
				"error", err,
			)
			return "", false
		}
		return id, id != ""
	}

	if !r.trustUserID {
		return "", false
	}

	id := strings.TrimSpace(req.URL.Query().Get(ParamUserID))
	// socket.io clients send the literal string when the id is unset
	if id == "" || id == "undefined" || id == "null" {
		return "", false
	}
	return id, true
}

func handshakeToken(req *http.Request) string {
	if token := strings.TrimSpace(req.URL.Query().Get(ParamToken)); token != "" {
		return token
	}
	if c, err := req.Cookie(CookieToken); err == nil {
		return c.Value
	}
	return ""
}
