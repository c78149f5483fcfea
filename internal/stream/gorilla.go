package stream

import (
	"context"

	"github.com/gorilla/websocket"
)

// GorillaDialer is the production Dialer, backed by
// github.com/gorilla/websocket.
type GorillaDialer struct{}

func (GorillaDialer) Dial(ctx context.Context, url string) (Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return &gorillaConn{conn: conn}, nil
}

type gorillaConn struct {
	conn *websocket.Conn
}

func (c *gorillaConn) ReadMessage() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	return data, err
}

func (c *gorillaConn) Close() error { return c.conn.Close() }
