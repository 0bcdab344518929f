package types

import "time"

// DirectMessage is a private message between two users.
//
// The Deleted flag is the receiver's trash state; the record itself only
// disappears through an explicit hard delete by the receiver.
type DirectMessage struct {
	// ID is the unique identifier of the message.
	ID int `json:"id" db:"id"`

	// SenderID references the user who composed the message.
	SenderID int `json:"sender_id" db:"sender_id"`

	// ReceiverID references the user the message was sent to.
	ReceiverID int `json:"receiver_id" db:"receiver_id"`

	// Subject is the message title shown in folder listings.
	Subject string `json:"subject" db:"subject"`

	// Body is the message content, rendered as Markdown.
	Body string `json:"body" db:"body"`

	// Viewed is set once the receiver has opened the message.
	Viewed bool `json:"viewed" db:"viewed"`

	// Deleted is set while the message sits in the receiver's trash.
	Deleted bool `json:"deleted" db:"deleted"`

	// HasReply is set by the first response and never cleared.
	HasReply bool `json:"has_reply" db:"has_reply"`

	// CreatedAt is the timestamp when the message was sent.
	CreatedAt time.Time `json:"created_at" db:"created_at"`

	// UpdatedAt is the timestamp of the most recent flag change.
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// IsParticipant reports whether the user sent or received the message.
func (m DirectMessage) IsParticipant(userID int) bool {
	return userID == m.SenderID || userID == m.ReceiverID
}

// DirectMessageResponse is a threaded reply attached to a message.
type DirectMessageResponse struct {
	// ID is the unique identifier of the response.
	ID int `json:"id" db:"id"`

	// MessageID references the parent message.
	MessageID int `json:"message_id" db:"message_id"`

	// SenderID references the participant who wrote the response.
	SenderID int `json:"sender_id" db:"sender_id"`

	// Body is the response content.
	Body string `json:"body" db:"body"`

	// CreatedAt is the timestamp when the response was written.
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// MessageView is a message joined with both participants' display fields.
type MessageView struct {
	DirectMessage

	SenderUsername    string `json:"sender_username" db:"sender_username"`
	SenderFirstName   string `json:"sender_first_name" db:"sender_first_name"`
	SenderLastName    string `json:"sender_last_name" db:"sender_last_name"`
	ReceiverUsername  string `json:"receiver_username" db:"receiver_username"`
	ReceiverFirstName string `json:"receiver_first_name" db:"receiver_first_name"`
	ReceiverLastName  string `json:"receiver_last_name" db:"receiver_last_name"`
}

// ResponseView is a response joined with its author's display fields.
type ResponseView struct {
	DirectMessageResponse

	OwnerUsername  string `json:"owner_username" db:"owner_username"`
	OwnerFirstName string `json:"owner_first_name" db:"owner_first_name"`
	OwnerLastName  string `json:"owner_last_name" db:"owner_last_name"`
}

// Thread is a message together with its responses, newest first.
type Thread struct {
	Message   MessageView    `json:"message"`
	Responses []ResponseView `json:"responses"`
}
