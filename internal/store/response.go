package store

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/savage-app/savage/types"
)

// ResponseRepository handles persistence for replies to direct messages.
type ResponseRepository struct {
	db *sqlx.DB
}

func NewResponseRepository(db *sqlx.DB) *ResponseRepository {
	return &ResponseRepository{db: db}
}

func (r *ResponseRepository) Create(ctx context.Context, resp types.DirectMessageResponse) (types.DirectMessageResponse, error) {
	resp.CreatedAt = time.Now().UTC()

	const query = `
		INSERT INTO direct_messages_responses (message_id, sender_id, body, created_at)
		VALUES (?, ?, ?, ?)
		RETURNING id`
	if err := r.db.QueryRowxContext(
		ctx,
		r.db.Rebind(query),
		resp.MessageID,
		resp.SenderID,
		resp.Body,
		resp.CreatedAt,
	).Scan(&resp.ID); err != nil {
		return types.DirectMessageResponse{}, err
	}
	return resp, nil
}

// ListByMessage returns the responses of a message with their authors, newest first.
func (r *ResponseRepository) ListByMessage(ctx context.Context, messageID int) ([]types.ResponseView, error) {
	const query = `
		SELECT resp.id, resp.message_id, resp.sender_id, resp.body, resp.created_at,
		       u.username AS owner_username,
		       u.first_name AS owner_first_name,
		       u.last_name AS owner_last_name
		FROM direct_messages_responses resp
		JOIN users u ON resp.sender_id = u.id
		WHERE resp.message_id = ?
		ORDER BY resp.created_at DESC, resp.id DESC`
	views := []types.ResponseView{}
	if err := r.db.SelectContext(ctx, &views, r.db.Rebind(query), messageID); err != nil {
		return nil, err
	}
	return views, nil
}
