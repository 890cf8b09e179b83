package command

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/sirupsen/logrus"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// HandlerFunc answers one command. A nil reply sends nothing back.
type HandlerFunc func(ctx context.Context, msg Message) (any, error)

// Router dispatches websocket commands to handlers by name.
type Router struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
	observe  func(cmd string)
}

func NewRouter() *Router {
	r := &Router{handlers: map[string]HandlerFunc{}}
	r.Handle(Ping, func(ctx context.Context, msg Message) (any, error) {
		return map[string]any{"cmd": Pong}, nil
	})
	return r
}

// Handle registers fn for cmd, replacing any previous handler.
func (r *Router) Handle(cmd string, fn HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[cmd] = fn
}

// Observe sets a function called with the name of every dispatched command.
func (r *Router) Observe(fn func(cmd string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observe = fn
}

// Dispatch runs the handler for a raw message and returns the reply to send.
// Failures are turned into error replies.
func (r *Router) Dispatch(ctx context.Context, raw []byte) any {
	msg, err := Parse(raw)
	if err != nil {
		logrus.Warnf("WS %v", err)
		return errorReply(err)
	}

	r.mu.RLock()
	fn, ok := r.handlers[msg.Cmd]
	observe := r.observe
	r.mu.RUnlock()

	if observe != nil {
		observe(msg.Cmd)
	}
	if !ok {
		logrus.Warnf("unknown WS command: %s", msg.Cmd)
		return errorReply(fmt.Errorf("%w: %s", ErrUnknownCommand, msg.Cmd))
	}
	if msg.Cmd != Ping {
		logrus.Debugf("got command=%s", msg.Cmd)
	}

	reply, err := fn(ctx, msg)
	if err != nil {
		logrus.Warnf("Command %s failed: %v", msg.Cmd, err)
		return errorReply(err)
	}
	return reply
}

// ServeHTTP upgrades the request and serves commands until the peer goes away.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	conn, err := websocket.Accept(w, req, nil)
	if err != nil {
		logrus.Warnf("Failed to accept websocket: %v", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "")

	ctx := req.Context()
	logrus.Infof("WS client connected from %s", req.RemoteAddr)
	for {
		_, raw, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure || errors.Is(err, context.Canceled) {
				logrus.Infof("WS client %s disconnected", req.RemoteAddr)
				conn.Close(websocket.StatusNormalClosure, "")
				return
			}
			logrus.Warnf("WS read from %s: %v", req.RemoteAddr, err)
			return
		}
		reply := r.Dispatch(ctx, raw)
		if reply == nil {
			continue
		}
		if err := wsjson.Write(ctx, conn, reply); err != nil {
			logrus.Warnf("WS write to %s: %v", req.RemoteAddr, err)
			return
		}
	}
}
