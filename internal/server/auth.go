package server

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/bryan-buckman/feedsync/internal/model"
)

// Account is a configured login.
type Account struct {
	User     model.User
	Password string
	Token    string
}

// Authenticator resolves credentials and tokens to users.
type Authenticator interface {
	Login(email, password string) (token string, user model.User, ok bool)
	UserForToken(token string) (model.User, bool)
}

// StaticAuthenticator serves a fixed set of accounts.
type StaticAuthenticator struct {
	accounts []Account
}

// NewStaticAuthenticator copies accounts, issuing a random token to any
// account configured without one.
func NewStaticAuthenticator(accounts []Account) (*StaticAuthenticator, error) {
	a := &StaticAuthenticator{accounts: make([]Account, 0, len(accounts))}
	for _, acc := range accounts {
		if acc.Token == "" {
			tok, err := randomToken()
			if err != nil {
				return nil, err
			}
			acc.Token = tok
			log.WithField("user", acc.User.ID).Info("Issued session token for user without a configured token")
		}
		a.accounts = append(a.accounts, acc)
	}
	return a, nil
}

func randomToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// Login checks email and password. Accounts without a password are
// token-only and never match.
func (a *StaticAuthenticator) Login(email, password string) (string, model.User, bool) {
	for _, acc := range a.accounts {
		if acc.Password == "" {
			continue
		}
		if strings.EqualFold(acc.User.Email, email) && secureEqual(acc.Password, password) {
			return acc.Token, acc.User, true
		}
	}
	return "", model.User{}, false
}

func (a *StaticAuthenticator) UserForToken(token string) (model.User, bool) {
	if token == "" {
		return model.User{}, false
	}
	for _, acc := range a.accounts {
		if secureEqual(acc.Token, token) {
			return acc.User, true
		}
	}
	return model.User{}, false
}

func secureEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

type contextKey int

const userKey contextKey = iota

// tokenFromRequest reads "GoogleLogin auth=<token>" or "Bearer <token>".
func tokenFromRequest(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if tok, ok := strings.CutPrefix(header, "GoogleLogin auth="); ok {
		return strings.TrimSpace(tok)
	}
	if tok, ok := strings.CutPrefix(header, "Bearer "); ok {
		return strings.TrimSpace(tok)
	}
	return ""
}

// requireUser rejects requests without a valid token and stores the user in
// the request context otherwise.
func (s *Server) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := s.auth.UserForToken(tokenFromRequest(r))
		if !ok {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey, user)))
	})
}

func userFrom(r *http.Request) model.User {
	user, _ := r.Context().Value(userKey).(model.User)
	return user
}
