package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/savage-app/savage/types"
)

const messageViewQuery = `
		SELECT dm.id, dm.sender_id, dm.receiver_id, dm.subject, dm.body,
		       dm.viewed, dm.deleted, dm.has_reply, dm.created_at, dm.updated_at,
		       sender.username AS sender_username,
		       sender.first_name AS sender_first_name,
		       sender.last_name AS sender_last_name,
		       receiver.username AS receiver_username,
		       receiver.first_name AS receiver_first_name,
		       receiver.last_name AS receiver_last_name
		FROM direct_messages dm
		JOIN users sender ON dm.sender_id = sender.id
		JOIN users receiver ON dm.receiver_id = receiver.id`

// MessageRepository handles persistence for direct messages.
type MessageRepository struct {
	db *sqlx.DB
}

func NewMessageRepository(db *sqlx.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

func (r *MessageRepository) Get(ctx context.Context, id int) (types.DirectMessage, error) {
	const query = `
		SELECT id, sender_id, receiver_id, subject, body, viewed, deleted, has_reply, created_at, updated_at
		FROM direct_messages
		WHERE id = ?`
	var msg types.DirectMessage
	if err := r.db.GetContext(ctx, &msg, r.db.Rebind(query), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.DirectMessage{}, ErrNotFound
		}
		return types.DirectMessage{}, err
	}
	return msg, nil
}

// GetView loads a message joined with both participants.
func (r *MessageRepository) GetView(ctx context.Context, id int) (types.MessageView, error) {
	var view types.MessageView
	if err := r.db.GetContext(ctx, &view, r.db.Rebind(messageViewQuery+` WHERE dm.id = ?`), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.MessageView{}, ErrNotFound
		}
		return types.MessageView{}, err
	}
	return view, nil
}

// ListReceived returns the receiver's messages in the inbox (deleted=false)
// or the trash (deleted=true), newest first.
func (r *MessageRepository) ListReceived(ctx context.Context, receiverID int, deleted bool) ([]types.MessageView, error) {
	return r.list(ctx, ` WHERE dm.receiver_id = ? AND dm.deleted = ?`, receiverID, deleted)
}

// ListSent returns every message the user has sent, newest first.
func (r *MessageRepository) ListSent(ctx context.Context, senderID int) ([]types.MessageView, error) {
	return r.list(ctx, ` WHERE dm.sender_id = ?`, senderID)
}

func (r *MessageRepository) list(ctx context.Context, where string, args ...any) ([]types.MessageView, error) {
	query := messageViewQuery + where + ` ORDER BY dm.created_at DESC, dm.id DESC`
	views := []types.MessageView{}
	if err := r.db.SelectContext(ctx, &views, r.db.Rebind(query), args...); err != nil {
		return nil, err
	}
	return views, nil
}

// CountUnread counts inbox messages the receiver has not opened yet.
func (r *MessageRepository) CountUnread(ctx context.Context, receiverID int) (int, error) {
	const query = `
		SELECT COUNT(1)
		FROM direct_messages
		WHERE receiver_id = ? AND viewed = ? AND deleted = ?`
	var total int
	if err := r.db.GetContext(ctx, &total, r.db.Rebind(query), receiverID, false, false); err != nil {
		return 0, err
	}
	return total, nil
}

func (r *MessageRepository) Create(ctx context.Context, msg types.DirectMessage) (types.DirectMessage, error) {
	now := time.Now().UTC()
	msg.CreatedAt = now
	msg.UpdatedAt = now

	const query = `
		INSERT INTO direct_messages (sender_id, receiver_id, subject, body, viewed, deleted, has_reply, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`
	if err := r.db.QueryRowxContext(
		ctx,
		r.db.Rebind(query),
		msg.SenderID,
		msg.ReceiverID,
		msg.Subject,
		msg.Body,
		msg.Viewed,
		msg.Deleted,
		msg.HasReply,
		msg.CreatedAt,
		msg.UpdatedAt,
	).Scan(&msg.ID); err != nil {
		return types.DirectMessage{}, err
	}
	return msg, nil
}

func (r *MessageRepository) SetViewed(ctx context.Context, id int) error {
	return r.setFlag(ctx, `UPDATE direct_messages SET viewed = ?, updated_at = ? WHERE id = ?`, true, id)
}

func (r *MessageRepository) SetDeleted(ctx context.Context, id int, deleted bool) error {
	return r.setFlag(ctx, `UPDATE direct_messages SET deleted = ?, updated_at = ? WHERE id = ?`, deleted, id)
}

func (r *MessageRepository) SetHasReply(ctx context.Context, id int) error {
	return r.setFlag(ctx, `UPDATE direct_messages SET has_reply = ?, updated_at = ? WHERE id = ?`, true, id)
}

func (r *MessageRepository) setFlag(ctx context.Context, query string, value bool, id int) error {
	result, err := r.db.ExecContext(ctx, r.db.Rebind(query), value, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	return expectAffected(result)
}

// Delete removes the message and its responses.
func (r *MessageRepository) Delete(ctx context.Context, id int) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM direct_messages_responses WHERE message_id = ?`), id); err != nil {
		return err
	}
	result, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM direct_messages WHERE id = ?`), id)
	if err != nil {
		return err
	}
	if err := expectAffected(result); err != nil {
		return err
	}
	return tx.Commit()
}
