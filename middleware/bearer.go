package middleware

import (
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/ts4z/floorman/he"
	"github.com/ts4z/floorman/permission"
)

type TokenParser interface {
	Parse(raw string) (*permission.Claims, error)
}

// BearerToContext is middleware that parses the bearer token and squirrels
// the claims away in the context, so not every level of the app has to be
// aware of tokens.
//
// No token means an anonymous request.  A bad token is rejected outright
// rather than quietly downgraded to anonymous.
type BearerToContext struct {
	tokens TokenParser
	next   http.Handler
}

func NewBearerToContext(tokens TokenParser, next http.Handler) *BearerToContext {
	return &BearerToContext{tokens: tokens, next: next}
}

// bearer finds the token.  Browsers can't set headers on a websocket
// handshake, so the query string is accepted too.
func bearer(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if rest, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return strings.TrimSpace(rest)
		}
		return ""
	}
	return r.URL.Query().Get("access_token")
}

func (b *BearerToContext) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw := bearer(r)
	if raw == "" {
		b.next.ServeHTTP(w, r)
		return
	}
	claims, err := b.tokens.Parse(raw)
	if err != nil {
		log.Debug().Err(err).Str("remote_addr", remoteAddr(r)).Msg("rejected bearer token")
		he.SendErrorToHTTPClient(w, "authenticate", he.New(http.StatusUnauthorized, err))
		return
	}
	b.next.ServeHTTP(w, r.WithContext(permission.ClaimsInContext(r.Context(), claims)))
}
