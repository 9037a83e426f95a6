package channel

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/coder/websocket"
	"github.com/matheus3301/complaintfeed/internal/feed"
)

// Conn is one established push connection.
type Conn interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close() error
}

// Dialer opens a push connection for a topic.
type Dialer interface {
	Dial(ctx context.Context, topic string) (Conn, error)
}

// WSDialer dials the backend WebSocket endpoint {BaseURL}/ws?topic=...
type WSDialer struct {
	BaseURL   string
	Token     string
	ReadLimit int64
}

func (d WSDialer) Dial(ctx context.Context, topic string) (Conn, error) {
	u := strings.TrimRight(d.BaseURL, "/") + "/ws?topic=" + url.QueryEscape(topic)
	header := http.Header{}
	if d.Token != "" {
		header.Set("Authorization", "Bearer "+d.Token)
	}
	c, resp, err := websocket.Dial(ctx, u, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("dial %s: %w", topic, feed.ErrAuthInvalid)
		}
		return nil, fmt.Errorf("dial %s: %w", topic, err)
	}
	if d.ReadLimit > 0 {
		c.SetReadLimit(d.ReadLimit)
	}
	return &wsConn{c: c}, nil
}

type wsConn struct {
	c *websocket.Conn
}

func (w *wsConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := w.c.Read(ctx)
	if err != nil {
		if status := websocket.CloseStatus(err); status != -1 {
			return nil, fmt.Errorf("%w: %s", ErrClosed, status)
		}
		return nil, err
	}
	return data, nil
}

func (w *wsConn) Write(ctx context.Context, data []byte) error {
	return w.c.Write(ctx, websocket.MessageText, data)
}

func (w *wsConn) Close() error {
	err := w.c.Close(websocket.StatusNormalClosure, "")
	if err != nil {
		var ce websocket.CloseError
		if errors.As(err, &ce) {
			return nil
		}
	}
	return err
}
