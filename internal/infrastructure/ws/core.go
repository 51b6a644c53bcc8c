package ws

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hilthontt/stockchat/internal/domain"
	"github.com/hilthontt/stockchat/internal/infrastructure/logging"
	"github.com/hilthontt/stockchat/internal/infrastructure/metrics"
)

const DefaultHistorySize = 50

var ErrHubStopped = errors.New("websocket hub stopped")

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// envelope is an outbound message for a whole room, or for one client
// when clientID is set.
type envelope struct {
	msg      *WSMessage
	clientID string
}

// Core is the websocket hub. All membership changes and deliveries run on
// the Run goroutine.
type Core struct {
	roomMgr     *RoomManager
	register    chan *Client
	unregister  chan *Client
	broadcast   chan envelope
	done        chan struct{}
	messages    domain.MessageRepository
	historySize int
	logger      logging.Logger
	metrics     *metrics.Metrics
}

func NewCore(messages domain.MessageRepository, logger logging.Logger, m *metrics.Metrics, historySize int) *Core {
	if historySize <= 0 {
		historySize = DefaultHistorySize
	}

	return &Core{
		roomMgr:     NewRoomManager(),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		broadcast:   make(chan envelope, 256),
		done:        make(chan struct{}),
		messages:    messages,
		historySize: historySize,
		logger:      logger,
		metrics:     m,
	}
}

// Run serves the hub until ctx is cancelled, then disconnects every client.
func (c *Core) Run(ctx context.Context) {
	defer close(c.done)

	for {
		select {
		case <-ctx.Done():
			c.roomMgr.CloseAll()
			return

		case cl := <-c.register:
			c.roomMgr.AddClient(cl)
			c.metrics.WebsocketOpened()
			c.deliver(envelope{msg: NewMemberJoined(cl.RoomID, cl.Username, cl.JoinedAt)})
			c.deliver(envelope{msg: NewUserList(cl.RoomID, c.roomMgr.Usernames(cl.RoomID))})

		case cl := <-c.unregister:
			if !c.roomMgr.RemoveClient(cl) {
				continue
			}
			c.metrics.WebsocketClosed()
			c.deliver(envelope{msg: NewMemberLeft(cl.RoomID, cl.Username)})
			c.deliver(envelope{msg: NewUserList(cl.RoomID, c.roomMgr.Usernames(cl.RoomID))})

		case env := <-c.broadcast:
			c.deliver(env)
		}
	}
}

func (c *Core) deliver(env envelope) {
	if env.clientID != "" {
		if err := c.roomMgr.SendToClient(env.msg.RoomID, env.clientID, env.msg); err != nil {
			c.logger.Debug(logging.Websocket, logging.Broadcast, "direct message not delivered", map[logging.ExtraKey]any{
				logging.RoomID:       env.msg.RoomID,
				logging.ErrorMessage: err.Error(),
			})
		}
		return
	}

	dropped, err := c.roomMgr.BroadcastToRoom(env.msg)
	if errors.Is(err, ErrRoomNotFound) {
		return
	}
	for _, id := range dropped {
		c.logger.Warn(logging.Websocket, logging.Broadcast, "client buffer full, dropping message", map[logging.ExtraKey]any{
			logging.RoomID:   env.msg.RoomID,
			logging.ClientID: id,
		})
	}
}

func (c *Core) enqueue(ctx context.Context, env envelope) error {
	select {
	case c.broadcast <- env:
		return nil
	case <-c.done:
		return ErrHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Join sends the room's recent history to cl and registers it. cl receives
// live traffic only after the history.
func (c *Core) Join(ctx context.Context, cl *Client) error {
	history, err := c.messages.GetLastMessages(ctx, c.historySize, cl.RoomID)
	if err != nil {
		c.logger.Error(logging.Storage, logging.Persist, "failed to load room history", map[logging.ExtraKey]any{
			logging.RoomID:       cl.RoomID,
			logging.ErrorMessage: err.Error(),
		})
		history = nil
	}
	cl.Message <- NewHistory(cl.RoomID, history)

	select {
	case c.register <- cl:
		return nil
	case <-c.done:
		return ErrHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Core) Leave(cl *Client) {
	select {
	case c.unregister <- cl:
	case <-c.done:
	}
}

// BroadcastQuote delivers a bot quote to the clients connected to roomID.
func (c *Core) BroadcastQuote(ctx context.Context, author, text string, at time.Time, roomID string) error {
	msg := &WSMessage{
		Type:   MessageReceived,
		RoomID: roomID,
		Data: MessagePayload{
			Content:   text,
			Username:  author,
			Timestamp: at.UTC().Format(time.RFC3339),
			IsQuote:   true,
		},
	}
	return c.enqueue(ctx, envelope{msg: msg})
}

func (c *Core) BroadcastMessage(ctx context.Context, m *domain.Message) error {
	return c.enqueue(ctx, envelope{msg: NewMessageReceived(*m)})
}

// Notify sends msg to cl alone.
func (c *Core) Notify(ctx context.Context, cl *Client, msg *WSMessage) error {
	return c.enqueue(ctx, envelope{msg: msg, clientID: cl.ID})
}

// Online lists the users currently connected to roomID.
func (c *Core) Online(roomID string) []string {
	return c.roomMgr.Usernames(roomID)
}

// ServeClient upgrades the request to a websocket bound to roomID. The
// upgrader has already answered the request when an error is returned.
func (c *Core) ServeClient(w http.ResponseWriter, r *http.Request, roomID, username string, inbound Inbound) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	cl := NewClient(conn, roomID, username)
	if err := c.Join(r.Context(), cl); err != nil {
		cl.close()
		return err
	}

	go cl.WriteMessage(c.logger)
	go cl.ReadMessage(c, inbound)
	return nil
}
