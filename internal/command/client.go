package command

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/sirupsen/logrus"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// Client sends commands to a Router over one websocket connection and hands
// every reply to OnMessage.
type Client struct {
	conn      *websocket.Conn
	onMessage func(Message)
}

// Dial connects to a command endpoint. http(s) URLs are accepted as ws(s).
func Dial(ctx context.Context, url string, onMessage func(Message)) (*Client, error) {
	url = wsURL(url)
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	// chart data replies for long windows can be large
	conn.SetReadLimit(16 << 20)
	logrus.Infof("Connected to %s", url)
	if onMessage == nil {
		onMessage = func(Message) {}
	}
	return &Client{conn: conn, onMessage: onMessage}, nil
}

// SendCommand writes {"cmd": name, ...payload}. It does not wait for a reply.
func (c *Client) SendCommand(ctx context.Context, name string, payload map[string]any) error {
	logrus.Debugf("Sending command=%s payload=%v", name, payload)
	if err := wsjson.Write(ctx, c.conn, Encode(name, payload)); err != nil {
		return fmt.Errorf("send %s: %w", name, err)
	}
	return nil
}

// Run reads replies until ctx is done or the connection closes.
func (c *Client) Run(ctx context.Context) error {
	for {
		_, raw, err := c.conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure || errors.Is(err, context.Canceled) || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
		msg, err := Parse(raw)
		if err != nil {
			logrus.Warnf("Ignoring reply: %v", err)
			continue
		}
		logrus.Tracef("Received reply=%s", msg.Cmd)
		c.onMessage(msg)
	}
}

func (c *Client) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "")
}

func wsURL(url string) string {
	switch {
	case strings.HasPrefix(url, "http://"):
		return "ws://" + strings.TrimPrefix(url, "http://")
	case strings.HasPrefix(url, "https://"):
		return "wss://" + strings.TrimPrefix(url, "https://")
	}
	return url
}
