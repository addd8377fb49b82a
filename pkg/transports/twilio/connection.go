package twilio

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/harunnryd/uketsuke/pkg/call"
	"github.com/harunnryd/uketsuke/pkg/errorsx"
)

var errConnectionClosed = errors.New("connection closed")

type outbound struct {
	kind int
	data []byte
	done chan error
}

// connection owns the websocket writer. All frames go through one loop so
// gorilla's single-writer rule holds.
type connection struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	sendCh       chan outbound
	loopDone     chan struct{}

	mu     sync.Mutex
	closed bool
}

func newConnection(conn *websocket.Conn, writeTimeout time.Duration) *connection {
	c := &connection{
		conn:         conn,
		writeTimeout: writeTimeout,
		sendCh:       make(chan outbound, 64),
		loopDone:     make(chan struct{}),
	}
	go c.loop()
	return c
}

// WriteText sends an utterance and waits until it is on the wire.
func (c *connection) WriteText(ctx context.Context, text string) error {
	msg := outbound{kind: websocket.TextMessage, data: []byte(text), done: make(chan error, 1)}
	if err := c.enqueue(msg); err != nil {
		return err
	}
	select {
	case err := <-msg.done:
		return err
	case <-c.loopDone:
		return errorsx.Wrap(errConnectionClosed, errorsx.ReasonTransportSend)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *connection) Ack(_ context.Context, ack call.Ack) {
	b, err := json.Marshal(ack)
	if err != nil {
		return
	}
	_ = c.enqueue(outbound{kind: websocket.TextMessage, data: b})
}

func (c *connection) enqueue(msg outbound) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errorsx.Wrap(errConnectionClosed, errorsx.ReasonTransportSend)
	}
	select {
	case c.sendCh <- msg:
		return nil
	default:
		return errorsx.Wrap(errors.New("send buffer full"), errorsx.ReasonTransportSend)
	}
}

func (c *connection) loop() {
	defer close(c.loopDone)
	for msg := range c.sendCh {
		if c.writeTimeout > 0 {
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
		}
		err := c.conn.WriteMessage(msg.kind, msg.data)
		if err != nil {
			err = errorsx.Wrap(err, errorsx.ReasonTransportSend)
		}
		if msg.done != nil {
			msg.done <- err
		}
	}
}

// close flushes queued frames and closes the socket.
func (c *connection) close() error {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.sendCh)
	}
	c.mu.Unlock()
	<-c.loopDone
	return c.conn.Close()
}
