package ws

import (
	"time"

	"github.com/hilthontt/stockchat/internal/domain"
)

type WSMessage struct {
	Type   string `json:"type"`
	RoomID string `json:"roomId"`
	Data   any    `json:"data"`
}

// Payload structs
type MessagePayload struct {
	ID        string `json:"id"`
	Content   string `json:"content"`
	UserID    string `json:"userId,omitempty"`
	Username  string `json:"username"`
	Timestamp string `json:"timestamp"`
	IsQuote   bool   `json:"isQuote"`
}

type HistoryPayload struct {
	Messages []MessagePayload `json:"messages"`
}

type MemberPayload struct {
	Username string `json:"username"`
	JoinedAt string `json:"joinedAt,omitempty"`
}

type UserListPayload struct {
	Users []string `json:"users"`
}

type NoticePayload struct {
	Message string `json:"message"`
}

type ErrorPayload struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

func toPayload(m domain.Message) MessagePayload {
	return MessagePayload{
		ID:        m.ID,
		Content:   m.Content,
		UserID:    m.UserID,
		Username:  m.Username,
		Timestamp: m.CreatedAt.UTC().Format(time.RFC3339),
		IsQuote:   m.IsQuote,
	}
}

func NewMessageReceived(m domain.Message) *WSMessage {
	return &WSMessage{
		Type:   MessageReceived,
		RoomID: m.RoomID,
		Data:   toPayload(m),
	}
}

func NewHistory(roomID string, messages []domain.Message) *WSMessage {
	payload := HistoryPayload{Messages: make([]MessagePayload, 0, len(messages))}
	for _, m := range messages {
		payload.Messages = append(payload.Messages, toPayload(m))
	}

	return &WSMessage{
		Type:   MessageHistory,
		RoomID: roomID,
		Data:   payload,
	}
}

func NewMemberJoined(roomID, username string, at time.Time) *WSMessage {
	return &WSMessage{
		Type:   MemberJoined,
		RoomID: roomID,
		Data: MemberPayload{
			Username: username,
			JoinedAt: at.UTC().Format(time.RFC3339),
		},
	}
}

func NewMemberLeft(roomID, username string) *WSMessage {
	return &WSMessage{
		Type:   MemberLeft,
		RoomID: roomID,
		Data:   MemberPayload{Username: username},
	}
}

func NewUserList(roomID string, users []string) *WSMessage {
	return &WSMessage{
		Type:   UserList,
		RoomID: roomID,
		Data:   UserListPayload{Users: users},
	}
}

// NewNotice is a system message shown only to the client it is sent to.
func NewNotice(roomID, message string) *WSMessage {
	return &WSMessage{
		Type:   SystemNotice,
		RoomID: roomID,
		Data:   NoticePayload{Message: message},
	}
}

func NewError(roomID, code, message string) *WSMessage {
	return &WSMessage{
		Type:   ErrorEvent,
		RoomID: roomID,
		Data: ErrorPayload{
			Code:    code,
			Message: message,
		},
	}
}
