package chatclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"chatrelay/internal/history"
	"chatrelay/internal/models"
)

const writeWait = 10 * time.Second

// Client is one live connection to a chatrelay server.
type Client struct {
	baseURL string
	token   string
	http    *http.Client

	conn    *websocket.Conn
	writeMu sync.Mutex
	events  chan models.Envelope

	closeOnce sync.Once
	done      chan struct{}
}

// Dial opens the websocket at baseURL (http or https) and starts reading.
// The connection is anonymous until Connect is sent.
func Dial(ctx context.Context, baseURL, token string) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}

	wsURL := *base
	switch base.Scheme {
	case "https":
		wsURL.Scheme = "wss"
	case "http", "":
		wsURL.Scheme = "ws"
	default:
		return nil, fmt.Errorf("unsupported scheme %q", base.Scheme)
	}
	wsURL.Path += "/ws"
	wsURL.RawQuery = url.Values{"token": {token}}.Encode()

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL.String(), nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", base.Host, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", base.Host, err)
	}

	c := &Client{
		baseURL: base.String(),
		token:   token,
		http:    &http.Client{Timeout: 10 * time.Second},
		conn:    conn,
		events:  make(chan models.Envelope, 64),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Events yields every frame the server pushes. It is closed when the
// connection ends.
func (c *Client) Events() <-chan models.Envelope {
	return c.events
}

func (c *Client) readLoop() {
	defer close(c.events)
	for {
		var env models.Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			return
		}
		select {
		case c.events <- env:
		case <-c.done:
			return
		}
	}
}

func (c *Client) emit(t models.EventType, payload interface{}) error {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		raw = b
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteJSON(models.Envelope{Type: t, Payload: raw})
}

func (c *Client) Connect(userID, displayName string) error {
	return c.emit(models.EventConnect, models.ConnectPayload{UserID: userID, DisplayName: displayName})
}

func (c *Client) Join(roomID string) error {
	return c.emit(models.EventJoinRoom, models.RoomPayload{RoomID: roomID})
}

func (c *Client) Leave(roomID string) error {
	return c.emit(models.EventLeaveRoom, models.RoomPayload{RoomID: roomID})
}

func (c *Client) Send(msg models.SendMessagePayload) error {
	return c.emit(models.EventSendMessage, msg)
}

func (c *Client) MarkRead(roomID string) error {
	return c.emit(models.EventMarkRead, models.RoomPayload{RoomID: roomID})
}

func (c *Client) Typing(roomID string) error {
	return c.emit(models.EventTyping, models.RoomPayload{RoomID: roomID})
}

func (c *Client) StopTyping(roomID string) error {
	return c.emit(models.EventStopTyping, models.RoomPayload{RoomID: roomID})
}

func (c *Client) RequestOnlineUsers() error {
	return c.emit(models.EventGetOnlineUsers, nil)
}

func (c *Client) SetStatus(status models.PresenceStatus) error {
	return c.emit(models.EventSetStatus, models.StatusPayload{Status: status})
}

// History fetches one page of a room over HTTP.
func (c *Client) History(ctx context.Context, roomID string, page, size int) (*history.Page, error) {
	q := url.Values{"page": {strconv.Itoa(page)}}
	if size > 0 {
		q.Set("limit", strconv.Itoa(size))
	}
	endpoint := c.baseURL + "/rooms/" + url.PathEscape(roomID) + "/messages?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr models.ErrorResponse
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Message != "" {
			return nil, fmt.Errorf("history: %s (%d)", apiErr.Message, resp.StatusCode)
		}
		return nil, fmt.Errorf("history: status %d", resp.StatusCode)
	}

	var out history.Page
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	return &out, nil
}

func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}

// Decode unpacks an event payload.
func Decode[T any](env models.Envelope) (T, error) {
	var v T
	err := json.Unmarshal(env.Payload, &v)
	return v, err
}
