// Package transport adapts a gorilla/websocket connection to what the
// gateway needs: message-at-a-time reads that can be streamed, and
// writes that are safe to issue from several goroutines.
//
// A connection's own read loop writes replies under the connection's
// write lock.  Messages raised by other connections, such as handoff
// notifications, go through Notify instead: they are queued and
// written by the connection's own notifier goroutine, so a peer never
// waits on a slow reader.
package transport

import (
	"context"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	gerrors "capgate/internal/errors"
	"capgate/util"
)

// MessageType discriminates text commands from binary payloads.
type MessageType int

const (
	Text   MessageType = websocket.TextMessage
	Binary MessageType = websocket.BinaryMessage
)

func (t MessageType) String() string {
	switch t {
	case Text:
		return "text"
	case Binary:
		return "binary"
	default:
		return "control"
	}
}

// DefaultWriteTimeout bounds a single write when none is configured.
const DefaultWriteTimeout = 30 * time.Second

// NotifyQueue is how many notifications may wait behind a busy writer
// before Notify starts dropping them.
const NotifyQueue = 16

// Conn is a server- or client-side websocket connection.
type Conn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration

	mu sync.Mutex // serializes writers

	notes     chan string
	notifier  sync.Once
	done      chan struct{}
	closeOnce sync.Once
}

// NewConn wraps ws.  A maxMessage of zero leaves message size
// unlimited; a zero writeTimeout uses DefaultWriteTimeout.
func NewConn(ws *websocket.Conn, maxMessage int64, writeTimeout time.Duration) *Conn {
	if maxMessage > 0 {
		ws.SetReadLimit(maxMessage)
	}
	if writeTimeout <= 0 {
		writeTimeout = DefaultWriteTimeout
	}
	return &Conn{
		ws:           ws,
		writeTimeout: writeTimeout,
		notes:        make(chan string, NotifyQueue),
		done:         make(chan struct{}),
	}
}

// Upgrader returns the upgrader used by the gateway.  Any origin is
// accepted; the gateway has no notion of users.
func Upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  util.DefaultBufSize,
		WriteBufferSize: util.DefaultBufSize,
		CheckOrigin:     func(*http.Request) bool { return true },
	}
}

// Upgrade completes the websocket handshake on an HTTP request.
func Upgrade(w http.ResponseWriter, r *http.Request, maxMessage int64, writeTimeout time.Duration) (*Conn, error) {
	ws, err := Upgrader().Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return NewConn(ws, maxMessage, writeTimeout), nil
}

// Dial opens a client connection to url, e.g. "ws://host:8080/".
func Dial(ctx context.Context, url string) (*Conn, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return NewConn(ws, 0, 0), nil
}

// NextMessage blocks for the next data message and returns a reader
// over its payload.  The reader is only valid until the next call.
func (c *Conn) NextMessage() (MessageType, io.Reader, error) {
	t, r, err := c.ws.NextReader()
	if err != nil {
		if IsClosed(err) {
			return 0, nil, gerrors.ErrConnectionClosed
		}
		return 0, nil, err
	}
	return MessageType(t), r, nil
}

// ReadMessage reads a whole message into memory.
func (c *Conn) ReadMessage() (MessageType, []byte, error) {
	t, r, err := c.NextMessage()
	if err != nil {
		return 0, nil, err
	}
	data, err := io.ReadAll(r)
	return t, data, err
}

// SendText writes msg as one text message.
func (c *Conn) SendText(msg string) error {
	return c.write(websocket.TextMessage, []byte(msg))
}

// Notify queues msg for the connection's notifier goroutine and
// returns without waiting for the write.  Queued messages are sent in
// order.  When NotifyQueue messages are already waiting msg is dropped
// and ErrNotifyBacklog returned.
func (c *Conn) Notify(msg string) error {
	select {
	case <-c.done:
		return gerrors.ErrConnectionClosed
	default:
	}
	c.notifier.Do(func() { go c.drain() })

	select {
	case c.notes <- msg:
		return nil
	default:
		return gerrors.ErrNotifyBacklog
	}
}

func (c *Conn) drain() {
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.notes:
			c.SendText(msg) //nolint:errcheck // the read loop sees a dead connection
		}
	}
}

// SendBinary writes p as one binary message.
func (c *Conn) SendBinary(p []byte) error {
	return c.write(websocket.BinaryMessage, p)
}

func (c *Conn) write(t int, p []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout)) //nolint:errcheck
	return c.ws.WriteMessage(t, p)
}

// SendStream copies r into a single binary message without holding it
// in memory.  The write deadline covers the whole copy, scaled by the
// caller's timeout.
func (c *Conn) SendStream(r io.Reader, timeout time.Duration) (int64, error) {
	if timeout <= 0 {
		timeout = c.writeTimeout
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.ws.SetWriteDeadline(time.Now().Add(timeout)) //nolint:errcheck
	w, err := c.ws.NextWriter(websocket.BinaryMessage)
	if err != nil {
		return 0, err
	}
	n, err := util.Copy(w, r)
	if cerr := w.Close(); err == nil {
		err = cerr
	}
	return n, err
}

// Close sends a close frame with code and reason, then closes the
// underlying connection.
func (c *Conn) Close(code int, reason string) error {
	c.closeOnce.Do(func() { close(c.done) })
	c.mu.Lock()
	deadline := time.Now().Add(time.Second)
	_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	c.mu.Unlock()
	return c.ws.Close()
}

// RemoteAddr returns the peer address as a string.
func (c *Conn) RemoteAddr() string { return c.ws.RemoteAddr().String() }

// IsClosed reports whether err is an orderly or abrupt end of the
// connection rather than a protocol fault.
func IsClosed(err error) bool {
	if err == nil {
		return false
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		return true
	}
	if websocket.IsUnexpectedCloseError(err) {
		return true
	}
	return gerrors.Is(err, io.ErrUnexpectedEOF) || gerrors.Is(err, io.EOF) ||
		gerrors.Is(err, net.ErrClosed) || gerrors.Is(err, gerrors.ErrConnectionClosed)
}
