package ws

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Transport 建立到服务端的双向通道
type Transport interface {
	Dial(ctx context.Context, objectID string) (Channel, error)
}

// Channel 一次连接；Receive 在 Close 之后返回错误
type Channel interface {
	Send(ctx context.Context, msg ClientMessage) error
	Receive(ctx context.Context) (ServerMessage, error)
	Close() error
}

// WebsocketTransport gorilla/websocket 实现
type WebsocketTransport struct {
	// 例如 ws://127.0.0.1:8081/collab/ws
	URL    string
	Token  string
	Dialer *websocket.Dialer
}

func (t *WebsocketTransport) Dial(ctx context.Context, objectID string) (Channel, error) {
	u, err := url.Parse(t.URL)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("objectId", objectID)
	u.RawQuery = q.Encode()

	header := http.Header{}
	if t.Token != "" {
		header.Set("Authorization", "Bearer "+t.Token)
	}
	dialer := t.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, resp, err := dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", u.Redacted(), err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", u.Redacted(), err)
	}
	return &wsChannel{conn: conn}, nil
}

type wsChannel struct {
	conn *websocket.Conn
	// gorilla 的连接同一时间只允许一个写者
	wmu sync.Mutex
}

func (c *wsChannel) Send(ctx context.Context, msg ClientMessage) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Time{}
	}
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.conn.WriteJSON(msg)
}

func (c *wsChannel) Receive(_ context.Context) (ServerMessage, error) {
	var msg ServerMessage
	err := c.conn.ReadJSON(&msg)
	return msg, err
}

func (c *wsChannel) Close() error {
	return c.conn.Close()
}
