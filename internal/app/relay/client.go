package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"chatsync/internal/app/backend"
	"chatsync/internal/pkg/auth/jwt"
	"chatsync/internal/pkg/errs"
	"chatsync/internal/pkg/logx"
)

const (
	// timeout duration for writing to the websocket connection.
	writeWait = 10 * time.Second

	// maximum time allowed for the server to wait for a Pong message from the client.
	pongWait = 60 * time.Second

	// frequency at which the server sends a Ping message.
	pingPeriod = (pongWait * 9) / 10

	// inbound frames are tiny; anything larger is abuse.
	maxFrameSize = 1024

	sendQueueSize = 256

	// TokenRefreshWindow defines how long before expiry the relay pushes a fresh channel token.
	TokenRefreshWindow = 2 * time.Minute
)

// Client is one websocket connection joined to one topic.
type Client struct {
	topic *Topic
	conn  *websocket.Conn

	member backend.Member
	claims jwt.Payload

	// tokenExpiry is only touched by WritePump.
	tokenExpiry time.Time

	// send queues marshaled frames for WritePump.
	send chan []byte

	// mu guards closed and the close frame fields.
	mu          sync.Mutex
	closed      bool
	closeCode   int
	closeReason string

	logger zerolog.Logger
}

// NewClient wraps conn for the member described by a verified channel token.
func NewClient(conn *websocket.Conn, claims *jwt.Payload) *Client {
	member := backend.Member{
		Key:         claims.ID,
		DisplayName: claims.Nickname,
		Color:       claims.Color,
	}

	return &Client{
		conn:        conn,
		member:      member,
		claims:      *claims,
		tokenExpiry: time.Unix(claims.ExpiresAt, 0),
		send:        make(chan []byte, sendQueueSize),
		logger: logx.Component("relay_client").With().
			Str("member_key", member.Key).
			Str("topic", claims.Topic).
			Logger(),
	}
}

// Member returns the presence entry of this connection.
func (c *Client) Member() backend.Member {
	return c.member
}

// ReadPump reads publish requests until the connection fails, then leaves the topic.
func (c *Client) ReadPump() {
	defer c.cleanupOnDisconnect()

	c.conn.SetReadLimit(maxFrameSize)

	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set read deadline")
		return
	}

	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Info().Err(err).Msg("Error reading message (client close/going away)")
			}
			return
		}

		c.processInboundFrame(data)
	}
}

func (c *Client) cleanupOnDisconnect() {
	c.logger.Debug().Msg("Client connection cleanup starting.")

	if c.topic != nil {
		c.topic.remove(c)
	}

	if err := c.conn.Close(); err != nil {
		c.logger.Debug().Err(err).Msg("Client connection close error")
	}
}

func (c *Client) processInboundFrame(data []byte) {
	var in InboundFrame
	if err := json.Unmarshal(data, &in); err != nil {
		c.logger.Warn().Err(err).Msg("Client sent invalid JSON")
		c.SendError(errs.NewError(errs.ErrInvalidJSONFormat))
		return
	}

	if !in.Kind.Publishable() {
		c.logger.Warn().Str("kind", string(in.Kind)).Msg("Client sent unsupported event kind")
		c.SendError(errs.NewError(errs.ErrInvalidParams))
		return
	}

	c.topic.publish(backend.BroadcastEvent{
		Kind:  in.Kind,
		Topic: c.topic.Name,
		From:  c.member,
		At:    time.Now().UTC(),
	})
}

// WritePump drains the send queue to the connection and keeps it alive with pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()

		if err := c.conn.Close(); err != nil {
			c.logger.Debug().Err(err).Msg("Client connection close error in WritePump")
		}
	}()

	for {
		select {
		case message, ok := <-c.send:
			if !c.writeQueuedMessage(message, ok) {
				return
			}

		case <-ticker.C:
			if !c.writePingMessage() {
				return
			}

			c.checkAndRefreshToken()
		}
	}
}

// writeQueuedMessage reports whether WritePump should keep going. A closed
// queue produces the close frame chosen by closeSend.
func (c *Client) writeQueuedMessage(message []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set write deadline")
		return false
	}

	if !ok {
		c.mu.Lock()
		code, reason := c.closeCode, c.closeReason
		c.mu.Unlock()

		if code == 0 {
			code = websocket.CloseNormalClosure
		}
		if err := c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason)); err != nil {
			c.logger.Debug().Err(err).Msg("Error writing close message")
		}
		return false
	}

	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		c.logger.Warn().Err(err).Msg("Error writing message")
		return false
	}

	return true
}

func (c *Client) writePingMessage() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set write deadline on ping")
		return false
	}

	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.logger.Warn().Err(err).Msg("Error writing ping")
		return false
	}

	return true
}

// checkAndRefreshToken pushes a new channel token when the current one is about to expire.
func (c *Client) checkAndRefreshToken() {
	if c.topic == nil || time.Now().Before(c.tokenExpiry.Add(-TokenRefreshWindow)) {
		return
	}

	c.logger.Info().
		Time("current_expiry", c.tokenExpiry).
		Dur("refresh_window", TokenRefreshWindow).
		Msg("Channel token is nearing expiry, attempting refresh.")

	payload := &jwt.Payload{
		ID:       c.claims.ID,
		Topic:    c.claims.Topic,
		UserType: c.claims.UserType,
		Nickname: c.claims.Nickname,
		Color:    c.claims.Color,
	}

	token, err := jwt.GenerateToken(payload, c.topic.jwtSecret, jwt.ChannelAccessExpiration)
	if err != nil {
		c.logger.Error().Err(err).Msg("Failed to generate new token. Aborting refresh.")
		return
	}

	if err := c.sendFrame(Frame{Type: FrameTokenUpdate, Token: token}); err != nil {
		c.logger.Error().Err(err).Msg("Failed to send token update to client.")
		return
	}

	c.tokenExpiry = time.Unix(payload.ExpiresAt, 0)
}

// enqueue reports false only when the queue is full. Frames for a closed
// client are dropped.
func (c *Client) enqueue(payload []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return true
	}

	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

func (c *Client) sendFrame(f Frame) error {
	payload, err := json.Marshal(f)
	if err != nil {
		c.logger.Error().Err(err).Msg("Error marshaling frame for client")
		return err
	}

	if !c.enqueue(payload) {
		c.logger.Warn().Int("queue_len", len(c.send)).Msg("Client send queue full, dropping frame")
		return fmt.Errorf("client send queue full")
	}
	return nil
}

// SendError queues an error frame for the client.
func (c *Client) SendError(err error) {
	payload := ErrorPayload{Code: errs.ErrUnknown, Message: err.Error()}

	var customErr *errs.CustomError
	if errors.As(err, &customErr) {
		payload.Code = customErr.Code
		payload.Message = customErr.Message
	}

	if err := c.sendFrame(Frame{Type: FrameError, Error: &payload}); err != nil {
		c.logger.Error().Err(err).Msg("Failed to queue error frame")
	}
}

// Kick closes the connection with CloseSessionKicked once the queued frames are written.
func (c *Client) Kick(reason string) {
	c.logger.Warn().
		Int("close_code", CloseSessionKicked).
		Str("reason", reason).
		Msg("Kicking connection.")

	c.closeSend(CloseSessionKicked, reason)
}

// closeSend closes the send queue once. WritePump then writes a close frame
// with code and reason.
func (c *Client) closeSend(code int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	c.closeCode = code
	c.closeReason = reason
	close(c.send)
}
