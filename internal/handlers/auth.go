package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/savage-app/savage/internal/services"
	"github.com/savage-app/savage/internal/session"
	"github.com/savage-app/savage/types"
)

const (
	msgFillFields      = "Please fill out the fields!"
	msgInvalidLogin    = "The credentials you have entered are invalid."
	msgBanned          = "Your account is banned."
	msgFormErrors      = "You have some errors with your registration, please fix them and try again."
	msgRegistered      = "You have been registered! You can now login!"
	msgProfileErrors   = "There were some errors while trying to update your profile, please fix them and try again."
	msgProfileUpdated  = "Your profile has been updated!"
	msgPasswordErrors  = "There were some errors while trying to change your password, please fix them and try again."
	msgPasswordChanged = "Your password has been changed!"
)

// AuthHandler serves sign-in, registration and account settings pages.
type AuthHandler struct {
	web   *Web
	authn *Authenticator
}

// AuthRouter registers the account routes on r. limiter throttles the
// login and registration posts when set.
func AuthRouter(r chi.Router, web *Web, authn *Authenticator, limiter *IPRateLimiter) {
	h := &AuthHandler{web: web, authn: authn}

	throttle := func(next http.Handler) http.Handler { return next }
	if limiter != nil {
		throttle = limiter.Middleware(web.log)
	}

	r.Group(func(r chi.Router) {
		r.Use(web.RequireGuest)
		r.Get("/login", web.handle(h.GetLogin))
		r.With(throttle).Post("/login", web.handle(h.PostLogin))
		r.Get("/register", web.handle(h.GetRegister))
		r.With(throttle).Post("/register", web.handle(h.PostRegister))
	})

	r.Post("/logout", web.handle(h.Logout))

	r.Group(func(r chi.Router) {
		r.Use(web.RequireAuth)
		r.Get("/settings", web.handle(h.GetSettings))
		r.Get("/settings/profile", web.handle(h.GetProfile))
		r.Post("/settings/profile", web.handle(h.PostProfile))
		r.Get("/settings/password", web.handle(h.GetPassword))
		r.Post("/settings/password", web.handle(h.PostPassword))
		r.Get("/notifications", web.handle(h.GetNotifications))
	})
}

func (h *AuthHandler) GetLogin(w http.ResponseWriter, r *http.Request) response {
	return render(http.StatusOK, pageLogin, "Login", nil)
}

func (h *AuthHandler) PostLogin(w http.ResponseWriter, r *http.Request) response {
	values, ok := formValues(r, "identifier", "password", "remember")
	sess := session.FromContext(r.Context())
	if !ok {
		sess.AddFlash(flashError, msgFillFields)
		return redirect("/auth/login")
	}

	remember := "off"
	if values["remember"] != "" {
		remember = "on"
	}
	form := services.LoginForm{
		Identifier: values["identifier"],
		Password:   values["password"],
		Remember:   remember == "on",
	}

	result, err := h.authn.auth.Login(r.Context(), sess, form)
	var verr *services.ValidationError
	switch {
	case err == nil:
		if result.Remember != nil {
			h.authn.remember.set(w, *result.Remember)
		}
		return redirect("/")
	case errors.As(err, &verr):
		flashForm(sess, true, verr, map[string]string{"identifier": form.Identifier, "remember": remember})
		sess.AddFlashNow(flashError, msgFormErrors)
		return render(http.StatusUnprocessableEntity, pageLogin, "Login", nil)
	case errors.Is(err, services.ErrInvalidCredentials):
		flashForm(sess, true, nil, map[string]string{"identifier": form.Identifier, "remember": remember})
		sess.AddFlashNow(flashError, msgInvalidLogin)
		return render(http.StatusUnauthorized, pageLogin, "Login", nil)
	case errors.Is(err, services.ErrAccountBanned):
		sess.AddFlash(flashError, msgBanned)
		return redirect("/auth/login")
	default:
		return h.web.fail(r, err, "/auth/login")
	}
}

func (h *AuthHandler) GetRegister(w http.ResponseWriter, r *http.Request) response {
	return render(http.StatusOK, pageRegister, "Register", nil)
}

func (h *AuthHandler) PostRegister(w http.ResponseWriter, r *http.Request) response {
	values, ok := formValues(r, "first_name", "last_name", "username", "email", "password", "confirm_password")
	sess := session.FromContext(r.Context())
	if !ok {
		sess.AddFlash(flashError, msgFillFields)
		return redirect("/auth/register")
	}

	form := services.RegisterForm{
		FirstName:       values["first_name"],
		LastName:        values["last_name"],
		Username:        values["username"],
		Email:           values["email"],
		Password:        values["password"],
		ConfirmPassword: values["confirm_password"],
	}

	_, err := h.authn.auth.Register(r.Context(), form)
	var verr *services.ValidationError
	switch {
	case err == nil:
		sess.AddFlash(flashSuccess, msgRegistered)
		return redirect("/auth/login")
	case errors.As(err, &verr):
		flashForm(sess, true, verr, map[string]string{
			"first_name": form.FirstName,
			"last_name":  form.LastName,
			"username":   form.Username,
			"email":      form.Email,
		})
		sess.AddFlashNow(flashError, msgFormErrors)
		return render(http.StatusUnprocessableEntity, pageRegister, "Register", nil)
	default:
		return h.web.fail(r, err, "/auth/register")
	}
}

// Logout signs out and revokes the remember cookie.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) response {
	sess := session.FromContext(r.Context())
	user, _ := currentUser(r.Context())
	if err := h.authn.auth.Logout(r.Context(), sess, user.ID); err != nil {
		h.web.log.Error().Err(err).Int("user_id", user.ID).Msg("logout")
	}
	h.authn.remember.clear(w)
	return redirect("/")
}

type settingsData struct {
	Permissions types.Permissions
}

func (h *AuthHandler) GetSettings(w http.ResponseWriter, r *http.Request) response {
	return h.renderSettings(r, http.StatusOK)
}

func (h *AuthHandler) renderSettings(r *http.Request, status int) response {
	user, _ := currentUser(r.Context())
	perms, err := h.authn.users.Permissions(r.Context(), user.ID)
	if err != nil {
		h.web.log.Warn().Err(err).Int("user_id", user.ID).Msg("load permissions")
	}
	return render(status, pageSettings, "Settings", settingsData{Permissions: perms})
}

func (h *AuthHandler) GetProfile(w http.ResponseWriter, r *http.Request) response {
	return redirect("/auth/settings#profile")
}

func (h *AuthHandler) PostProfile(w http.ResponseWriter, r *http.Request) response {
	values, ok := formValues(r, "first_name", "last_name", "email")
	sess := session.FromContext(r.Context())
	if !ok {
		sess.AddFlash(flashError, msgFillFields)
		return redirect("/auth/settings#profile")
	}

	user, _ := currentUser(r.Context())
	form := services.ProfileForm{
		FirstName: values["first_name"],
		LastName:  values["last_name"],
		Email:     values["email"],
	}

	_, err := h.authn.auth.UpdateProfile(r.Context(), user.ID, form)
	var verr *services.ValidationError
	switch {
	case err == nil:
		sess.AddFlash(flashSuccess, msgProfileUpdated)
		return redirect("/auth/settings#profile")
	case errors.As(err, &verr):
		flashForm(sess, true, verr, values)
		sess.AddFlashNow(flashError, msgProfileErrors)
		return h.renderSettings(r, http.StatusUnprocessableEntity)
	case errors.Is(err, services.ErrNotAuthenticated):
		return redirect("/")
	default:
		return h.web.fail(r, err, "/auth/settings#profile")
	}
}

func (h *AuthHandler) GetPassword(w http.ResponseWriter, r *http.Request) response {
	return redirect("/auth/settings#password")
}

func (h *AuthHandler) PostPassword(w http.ResponseWriter, r *http.Request) response {
	values, ok := formValues(r, "current_password", "new_password", "confirm_new_password")
	sess := session.FromContext(r.Context())
	if !ok {
		sess.AddFlash(flashError, msgFillFields)
		return redirect("/auth/settings#password")
	}

	user, _ := currentUser(r.Context())
	err := h.authn.auth.UpdatePassword(r.Context(), user.ID, services.PasswordForm{
		CurrentPassword:    values["current_password"],
		NewPassword:        values["new_password"],
		ConfirmNewPassword: values["confirm_new_password"],
	})
	var verr *services.ValidationError
	switch {
	case err == nil:
		sess.AddFlash(flashSuccess, msgPasswordChanged)
		return redirect("/auth/settings#password")
	case errors.As(err, &verr):
		flashForm(sess, true, verr, nil)
		sess.AddFlashNow(flashError, msgPasswordErrors)
		return h.renderSettings(r, http.StatusUnprocessableEntity)
	case errors.Is(err, services.ErrNotAuthenticated):
		return redirect("/")
	default:
		return h.web.fail(r, err, "/auth/settings#password")
	}
}

func (h *AuthHandler) GetNotifications(w http.ResponseWriter, r *http.Request) response {
	return render(http.StatusOK, pageNotifications, "Notifications", nil)
}

// formValues reads the named post fields. ok is false when none of them
// was submitted at all.
func formValues(r *http.Request, keys ...string) (map[string]string, bool) {
	values := make(map[string]string, len(keys))
	if err := r.ParseForm(); err != nil {
		return values, false
	}
	found := false
	for _, key := range keys {
		if _, present := r.PostForm[key]; present {
			found = true
		}
		values[key] = r.PostForm.Get(key)
	}
	return values, found
}
