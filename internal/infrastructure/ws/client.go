package ws

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/hilthontt/stockchat/internal/infrastructure/logging"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 32 * 1024
	inboundTimeout = 15 * time.Second
)

// Inbound receives the text a client types into its room. A non-empty
// notice is shown to that client only.
type Inbound interface {
	SendMessage(ctx context.Context, username, roomID, text string) (notice string, err error)
}

type Client struct {
	conn     *connWrapper
	Message  chan *WSMessage
	ID       string    `json:"id"`
	RoomID   string    `json:"roomId"`
	Username string    `json:"username"`
	JoinedAt time.Time `json:"joinedAt"`

	closeOnce sync.Once
}

func NewClient(conn *websocket.Conn, roomID, username string) *Client {
	return &Client{
		conn:     newConnWrapper(conn),
		Message:  make(chan *WSMessage, 64),
		ID:       uuid.NewString(),
		RoomID:   roomID,
		Username: username,
		JoinedAt: time.Now().UTC(),
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		_ = c.conn.Close()
	})
}

// ReadMessage hands every text frame to inbound until the connection
// closes, then leaves the hub.
func (c *Client) ReadMessage(core *Core, inbound Inbound) {
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		core.Leave(c)
		c.close()
	}()

	c.conn.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.conn.SetPongHandler(func(string) error {
		return c.conn.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				core.logger.Warn(logging.Websocket, logging.Connection, "ws read error", map[logging.ExtraKey]any{
					logging.RoomID:       c.RoomID,
					logging.Username:     c.Username,
					logging.ErrorMessage: err.Error(),
				})
			}
			return
		}

		text := strings.TrimSpace(string(raw))
		if text == "" {
			continue
		}

		c.handle(ctx, core, inbound, text)
	}
}

func (c *Client) handle(ctx context.Context, core *Core, inbound Inbound, text string) {
	ctx, cancel := context.WithTimeout(ctx, inboundTimeout)
	defer cancel()

	notice, err := inbound.SendMessage(ctx, c.Username, c.RoomID, text)
	if err != nil {
		_ = core.Notify(ctx, c, NewError(c.RoomID, "send_failed", err.Error()))
		return
	}
	if notice != "" {
		_ = core.Notify(ctx, c, NewNotice(c.RoomID, notice))
	}
}

// WriteMessage drains the outbound queue until the hub closes it.
func (c *Client) WriteMessage(logger logging.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case msg, ok := <-c.Message:
			if !ok {
				_ = c.conn.WriteClose()
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				logger.Warn(logging.Websocket, logging.Broadcast, "ws write error", map[logging.ExtraKey]any{
					logging.RoomID:       c.RoomID,
					logging.Username:     c.Username,
					logging.ErrorMessage: err.Error(),
				})
				return
			}

		case <-ticker.C:
			if err := c.conn.WritePing(); err != nil {
				return
			}
		}
	}
}
