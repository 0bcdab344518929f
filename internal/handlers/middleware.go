package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/savage-app/savage/internal/services"
	"github.com/savage-app/savage/internal/session"
)

// RequestLogger writes one access log event per request.
func RequestLogger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			meta := &requestMeta{}
			r = r.WithContext(context.WithValue(r.Context(), contextRequestKey, meta))

			defer func() {
				status := ww.Status()
				if status == 0 {
					status = http.StatusOK
				}

				event := log.Info()
				if status >= 400 {
					event = log.Warn()
				}
				if status >= 500 {
					event = log.Error()
				}
				event.
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Int("status", status).
					Dur("latency", time.Since(start)).
					Str("ip", r.RemoteAddr).
					Str("request_id", middleware.GetReqID(r.Context())).
					Int("user_id", meta.userID).
					Int("body_size", ww.BytesWritten()).
					Msg("request")
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

// rememberCookie sets and clears the remember-me cookie.
type rememberCookie struct {
	name   string
	secure bool
}

func (c rememberCookie) set(w http.ResponseWriter, value services.RememberCookie) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.name,
		Value:    value.Value,
		Path:     "/",
		Expires:  value.Expires,
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (c rememberCookie) clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// Authenticator resolves the signed-in user of each request.
type Authenticator struct {
	auth     *services.AuthService
	users    *services.UserService
	remember rememberCookie
	log      zerolog.Logger
}

func NewAuthenticator(auth *services.AuthService, users *services.UserService, rememberName string, secure bool, log zerolog.Logger) *Authenticator {
	return &Authenticator{
		auth:     auth,
		users:    users,
		remember: rememberCookie{name: rememberName, secure: secure},
		log:      log,
	}
}

// Middleware puts the current user in the request context. A request
// without a session user but with a remember cookie is re-authenticated
// from it; a cookie that fails is cleared.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		sess := session.FromContext(ctx)

		if sess.UserID() == 0 {
			if cookie, err := r.Cookie(a.remember.name); err == nil && cookie.Value != "" {
				user, err := a.auth.AuthenticateRemembered(ctx, sess, cookie.Value)
				if err != nil {
					if !errors.Is(err, services.ErrInvalidCredentials) {
						a.log.Error().Err(err).Msg("remember me authentication")
					}
					a.remember.clear(w)
				} else {
					next.ServeHTTP(w, r.WithContext(withUser(ctx, user)))
					return
				}
			}
		}

		if id := sess.UserID(); id != 0 {
			user, err := a.users.Current(ctx, id)
			switch {
			case err == nil:
				ctx = withUser(ctx, user)
			case errors.Is(err, services.ErrNotAuthenticated):
				sess.ClearUserID()
			default:
				a.log.Error().Err(err).Int("user_id", id).Msg("load current user")
			}
		}

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAuth sends guests to the home page.
func (wb *Web) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := currentUser(r.Context()); !ok {
			wb.redirect(w, r, "/")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireGuest sends signed-in users to the home page.
func (wb *Web) RequireGuest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := currentUser(r.Context()); ok {
			wb.redirect(w, r, "/")
			return
		}
		next.ServeHTTP(w, r)
	})
}
