package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/savage-app/savage/internal/services"
	"github.com/savage-app/savage/internal/session"
)

const (
	inboxPath = "/auth/messages"

	msgSent              = "Your message has been sent!"
	msgComposeErrors     = "There were some errors while trying to send your message, please fix them and try again."
	msgRecipientNotFound = "We could not find the user you selected."
	msgReplySent         = "Your reply has been sent!"
	msgReplyErrors       = "There were some errors while trying to send your reply, please fix them and try again."
)

// bulkFlash holds the confirmation for one bulk action; plural is used when
// more than one message was selected.
type bulkFlash struct {
	singular string
	plural   string
}

var (
	trashFlash = bulkFlash{
		singular: "You have added that message to your trash!",
		plural:   "You have added those messages to your trash!",
	}
	restoreFlash = bulkFlash{
		singular: "You have restored that message back to your Inbox!",
		plural:   "You have restored those messages back to your Inbox!",
	}
	deleteFlash = bulkFlash{
		singular: "You have deleted that message, forever!",
		plural:   "You have deleted those messages, forever!",
	}
)

func (f bulkFlash) pick(submitted int) string {
	if submitted > 1 {
		return f.plural
	}
	return f.singular
}

// MessageHandler serves the direct message folders and threads.
type MessageHandler struct {
	web      *Web
	messages *services.MessageService
}

// MessageRouter registers the message routes on r. Every route requires a
// signed-in user.
func MessageRouter(r chi.Router, web *Web, messages *services.MessageService) {
	h := &MessageHandler{web: web, messages: messages}

	r.Use(web.RequireAuth)
	r.Get("/", web.handle(h.Inbox))
	r.Post("/compose", web.handle(h.Compose))
	r.Post("/trash", web.handle(h.Trash))
	r.Post("/restore", web.handle(h.Restore))
	r.Post("/delete", web.handle(h.Delete))
	r.Get("/trashed", web.handle(h.Trashed))
	r.Get("/sent", web.handle(h.Sent))
	r.Get("/{id}", web.handle(h.View))
	r.Post("/{id}/reply", web.handle(h.Reply))
}

func (h *MessageHandler) Inbox(w http.ResponseWriter, r *http.Request) response {
	user, _ := currentUser(r.Context())
	inbox, err := h.messages.ListInbox(r.Context(), user.ID)
	if err != nil {
		return h.web.fail(r, err, "/")
	}
	return render(http.StatusOK, pageMessages, "Messages", inbox)
}

func (h *MessageHandler) Trashed(w http.ResponseWriter, r *http.Request) response {
	user, _ := currentUser(r.Context())
	messages, err := h.messages.ListTrash(r.Context(), user.ID)
	if err != nil {
		return h.web.fail(r, err, inboxPath)
	}
	return render(http.StatusOK, pageTrashed, "Trash", messages)
}

func (h *MessageHandler) Sent(w http.ResponseWriter, r *http.Request) response {
	user, _ := currentUser(r.Context())
	messages, err := h.messages.ListSent(r.Context(), user.ID)
	if err != nil {
		return h.web.fail(r, err, inboxPath)
	}
	return render(http.StatusOK, pageSent, "Sent Messages", messages)
}

func (h *MessageHandler) View(w http.ResponseWriter, r *http.Request) response {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id < 1 {
		return redirect(inboxPath)
	}

	user, _ := currentUser(r.Context())
	sess := session.FromContext(r.Context())
	thread, err := h.messages.View(r.Context(), user.ID, id, sess.HasFlash(flashNoty))
	switch {
	case err == nil:
		return render(http.StatusOK, pageMessage, thread.Message.Subject, thread)
	case errors.Is(err, services.ErrNotFound):
		return redirect(inboxPath)
	default:
		return h.web.fail(r, err, inboxPath)
	}
}

func (h *MessageHandler) Compose(w http.ResponseWriter, r *http.Request) response {
	values, ok := formValues(r, "message_recipient", "message_subject", "message_body")
	sess := session.FromContext(r.Context())
	if !ok {
		sess.AddFlash(flashError, msgFillFields)
		return redirect(inboxPath)
	}

	user, _ := currentUser(r.Context())
	_, err := h.messages.Compose(r.Context(), user, services.ComposeForm{
		Recipient: values["message_recipient"],
		Subject:   values["message_subject"],
		Body:      values["message_body"],
	})
	var verr *services.ValidationError
	switch {
	case err == nil:
		sess.AddFlash(flashNoty, msgSent)
	case errors.As(err, &verr):
		flashForm(sess, false, verr, values)
		sess.AddFlash(flashError, msgComposeErrors)
	case errors.Is(err, services.ErrRecipientNotFound):
		sess.AddFlash(flashError, msgRecipientNotFound)
	case errors.Is(err, services.ErrNotAuthenticated):
		return redirect("/")
	default:
		return h.web.fail(r, err, inboxPath)
	}
	return redirect(inboxPath)
}

func (h *MessageHandler) Reply(w http.ResponseWriter, r *http.Request) response {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id < 1 {
		return redirect(inboxPath)
	}

	values, _ := formValues(r, "response")
	user, _ := currentUser(r.Context())
	sess := session.FromContext(r.Context())
	threadPath := inboxPath + "/" + strconv.Itoa(id)

	_, err = h.messages.Reply(r.Context(), user.ID, id, services.ReplyForm{Body: values["response"]})
	var verr *services.ValidationError
	switch {
	case err == nil:
		sess.AddFlash(flashNoty, msgReplySent)
		return redirect(threadPath)
	case errors.As(err, &verr):
		flashForm(sess, false, verr, values)
		sess.AddFlash(flashError, msgReplyErrors)
		return redirect(threadPath)
	case errors.Is(err, services.ErrNotFound):
		return redirect(inboxPath)
	default:
		return h.web.fail(r, err, threadPath)
	}
}

func (h *MessageHandler) Trash(w http.ResponseWriter, r *http.Request) response {
	return h.bulk(r, h.messages.Trash, trashFlash)
}

func (h *MessageHandler) Restore(w http.ResponseWriter, r *http.Request) response {
	return h.bulk(r, h.messages.Restore, restoreFlash)
}

func (h *MessageHandler) Delete(w http.ResponseWriter, r *http.Request) response {
	return h.bulk(r, h.messages.HardDelete, deleteFlash)
}

type bulkAction func(ctx context.Context, userID int, ids []int) (int, error)

func (h *MessageHandler) bulk(r *http.Request, action bulkAction, flash bulkFlash) response {
	if err := r.ParseForm(); err != nil {
		return redirect(inboxPath)
	}
	ids, submitted := parseSelected(r.PostForm["selectedMessages"])
	if submitted == 0 {
		return redirect(inboxPath)
	}

	user, _ := currentUser(r.Context())
	if _, err := action(r.Context(), user.ID, ids); err != nil {
		return h.web.fail(r, err, inboxPath)
	}
	session.FromContext(r.Context()).AddFlash(flashNoty, flash.pick(submitted))
	return redirect(inboxPath)
}
