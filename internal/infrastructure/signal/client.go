package signal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"syncroom/internal/protocol"

	"github.com/gorilla/websocket"
)

var ErrClientClosed = errors.New("signaling client closed")

type ClientOptions struct {
	WriteTimeout   time.Duration
	PongTimeout    time.Duration
	PingInterval   time.Duration
	MaxMessageSize int64
	Header         http.Header
}

func DefaultClientOptions() ClientOptions {
	return ClientOptions{
		WriteTimeout:   10 * time.Second,
		PongTimeout:    60 * time.Second,
		PingInterval:   54 * time.Second,
		MaxMessageSize: 1 << 20,
	}
}

// Client is the participant side of the relay connection. It decodes incoming
// frames into envelopes and serializes writes through one pump.
type Client struct {
	ws   *websocket.Conn
	opts ClientOptions

	incoming chan *protocol.Envelope
	outgoing chan []byte
	done     chan struct{}

	closeOnce sync.Once
	errMu     sync.Mutex
	err       error
}

func Dial(ctx context.Context, url string, opts ClientOptions) (*Client, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, opts.Header)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to relay: %w", err)
	}

	c := &Client{
		ws:       ws,
		opts:     opts,
		incoming: make(chan *protocol.Envelope, 64),
		outgoing: make(chan []byte, 64),
		done:     make(chan struct{}),
	}
	if opts.MaxMessageSize > 0 {
		ws.SetReadLimit(opts.MaxMessageSize)
	}
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(opts.PongTimeout))
		return nil
	})

	go c.readPump()
	go c.writePump()
	return c, nil
}

func (c *Client) readPump() {
	defer close(c.incoming)

	c.ws.SetReadDeadline(time.Now().Add(c.opts.PongTimeout))
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.fail(err)
			return
		}
		c.ws.SetReadDeadline(time.Now().Add(c.opts.PongTimeout))

		env, err := protocol.Parse(data)
		if err != nil {
			continue
		}
		select {
		case c.incoming <- env:
		case <-c.done:
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case data := <-c.outgoing:
			c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.fail(err)
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.fail(err)
				return
			}

		case <-c.done:
			c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// Send queues an envelope. It blocks only while the outgoing buffer is full.
func (c *Client) Send(env *protocol.Envelope) error {
	data, err := protocol.Marshal(env)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return c.Err()
	default:
	}
	select {
	case c.outgoing <- data:
		return nil
	case <-c.done:
		return c.Err()
	}
}

// Incoming is closed when the connection ends.
func (c *Client) Incoming() <-chan *protocol.Envelope {
	return c.incoming
}

func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns the error that ended the connection, ErrClientClosed after Close.
func (c *Client) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

func (c *Client) Close() error {
	c.fail(ErrClientClosed)
	return nil
}

func (c *Client) fail(err error) {
	c.closeOnce.Do(func() {
		c.errMu.Lock()
		c.err = err
		c.errMu.Unlock()
		close(c.done)
	})
}
