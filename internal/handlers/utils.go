package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/savage-app/savage/internal/services"
	"github.com/savage-app/savage/internal/session"
	"github.com/savage-app/savage/types"
)

type contextKey string

const (
	contextUserKey    contextKey = "user"
	contextRequestKey contextKey = "request_meta"
)

// Flash keys understood by the templates.
const (
	flashError   = "error"
	flashSuccess = "success"
	flashNoty    = "notySuccess"

	flashOldPrefix   = "old."
	flashErrorPrefix = "errors."

	// maxFlashedValue bounds a redisplayed form value carried in the session
	// cookie; browsers drop cookies over 4096 bytes.
	maxFlashedValue = 512
)

// requestMeta is filled in by inner middleware for the access log.
type requestMeta struct {
	userID int
}

func withUser(ctx context.Context, user types.User) context.Context {
	if meta, ok := ctx.Value(contextRequestKey).(*requestMeta); ok {
		meta.userID = user.ID
	}
	return context.WithValue(ctx, contextUserKey, user)
}

// currentUser returns the signed-in user, if any.
func currentUser(ctx context.Context) (types.User, bool) {
	user, ok := ctx.Value(contextUserKey).(types.User)
	return user, ok && user.ID > 0
}

// response is what a page handler decides; Web.handle writes it after the
// session has been saved.
type response struct {
	status   int
	template string
	title    string
	data     any
	location string
}

func render(status int, template, title string, data any) response {
	return response{status: status, template: template, title: title, data: data}
}

func redirect(location string) response {
	return response{status: http.StatusSeeOther, location: location}
}

type pageHandler func(w http.ResponseWriter, r *http.Request) response

// UnreadCounter reports the unread inbox count shown in the navigation.
type UnreadCounter interface {
	UnreadCount(ctx context.Context, userID int) (int, error)
}

// Web holds what every page handler needs to answer a request.
type Web struct {
	views    *Views
	sessions *session.Manager
	unread   UnreadCounter
	log      zerolog.Logger
}

func NewWeb(views *Views, sessions *session.Manager, unread UnreadCounter, log zerolog.Logger) *Web {
	return &Web{views: views, sessions: sessions, unread: unread, log: log}
}

func (wb *Web) handle(fn pageHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := fn(w, r)
		sess := session.FromContext(r.Context())

		if resp.location != "" {
			wb.redirect(w, r, resp.location)
			return
		}

		pg := wb.page(r, sess, resp)
		if err := wb.sessions.Save(w, sess); err != nil {
			wb.log.Error().Err(err).Msg("save session")
		}
		if err := wb.views.Render(w, resp.status, resp.template, pg); err != nil {
			wb.log.Error().Err(err).Str("template", resp.template).Msg("render page")
		}
	}
}

// redirect saves the session and sends the browser to location.
func (wb *Web) redirect(w http.ResponseWriter, r *http.Request, location string) {
	if err := wb.sessions.Save(w, session.FromContext(r.Context())); err != nil {
		wb.log.Error().Err(err).Msg("save session")
	}
	http.Redirect(w, r, location, http.StatusSeeOther)
}

// fail logs an unexpected error and sends the user back to location with a
// generic message.
func (wb *Web) fail(r *http.Request, err error, location string) response {
	wb.log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	session.FromContext(r.Context()).AddFlash(flashError, "Something went wrong, please try again.")
	return redirect(location)
}

func (wb *Web) page(r *http.Request, sess *session.Session, resp response) page {
	pg := page{
		Title:     resp.title,
		CSRFField: csrfField(r),
		Flash:     map[string]string{},
		Errors:    map[string]string{},
		Old:       map[string]string{},
		Data:      resp.data,
	}
	for key, msgs := range sess.Flashes() {
		if len(msgs) == 0 {
			continue
		}
		switch {
		case strings.HasPrefix(key, flashErrorPrefix):
			pg.Errors[strings.TrimPrefix(key, flashErrorPrefix)] = msgs[0]
		case strings.HasPrefix(key, flashOldPrefix):
			pg.Old[strings.TrimPrefix(key, flashOldPrefix)] = msgs[0]
		default:
			pg.Flash[key] = msgs[0]
		}
	}

	if user, ok := currentUser(r.Context()); ok {
		pg.User = &user
		if wb.unread != nil {
			count, err := wb.unread.UnreadCount(r.Context(), user.ID)
			if err != nil {
				wb.log.Warn().Err(err).Int("user_id", user.ID).Msg("count unread messages")
			}
			pg.Unread = count
		}
	}
	return pg
}

// flashForm exposes a failed form to the template: field errors and the
// submitted values. now selects this render over the next request. Values
// longer than maxFlashedValue are not redisplayed after a redirect.
func flashForm(sess *session.Session, now bool, verr *services.ValidationError, old map[string]string) {
	add := sess.AddFlash
	if now {
		add = sess.AddFlashNow
	}
	if verr != nil {
		for field, msg := range verr.Fields {
			add(flashErrorPrefix+field, msg)
		}
	}
	for key, value := range old {
		if !now && len(value) > maxFlashedValue {
			continue
		}
		add(flashOldPrefix+key, value)
	}
}

// parseSelected splits the comma separated selectedMessages values. It
// returns the valid ids and how many entries were submitted.
func parseSelected(values []string) ([]int, int) {
	var ids []int
	submitted := 0
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			submitted++
			id, err := strconv.Atoi(part)
			if err != nil || id < 1 {
				continue
			}
			ids = append(ids, id)
		}
	}
	return ids, submitted
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}

// ErrorResponse is a simple error payload.
type ErrorResponse struct {
	Error string `json:"error"`
}
