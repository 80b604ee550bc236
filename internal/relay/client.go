package relay

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/1ureka/mirror/internal/protocol"
	"github.com/1ureka/mirror/internal/record"
	"github.com/1ureka/mirror/internal/store"
)

// ErrDisconnected is returned for requests on a client whose connection
// has dropped.
var ErrDisconnected = errors.New("relay connection lost")

// Client is a store.Store backed by a relay server.
type Client struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	mu      sync.Mutex
	nextID  uint64
	pending map[uint64]chan *protocol.Message
	subs    map[uint64]*clientSub

	done    chan struct{}
	closeMu sync.Once
	err     error
}

var _ store.Store = (*Client)(nil)

// Dial connects to a relay at rawURL (ws:// or wss://). token, if set, is
// passed as the "token" query parameter.
func Dial(ctx context.Context, rawURL, token string) (*Client, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid relay URL %q: %w", rawURL, err)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/ws"
	}
	if token != "" {
		q := u.Query()
		q.Set("token", token)
		u.RawQuery = q.Encode()
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to relay: %w", err)
	}
	return newClient(conn), nil
}

func newClient(conn *websocket.Conn) *Client {
	c := &Client{
		conn:    conn,
		pending: make(map[uint64]chan *protocol.Message),
		subs:    make(map[uint64]*clientSub),
		done:    make(chan struct{}),
	}
	conn.SetReadLimit(protocol.MaxMessageSize)
	go c.readLoop()
	return c
}

func (c *Client) readLoop() {
	defer c.shutdown(ErrDisconnected)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		msg, err := protocol.Decode(data)
		if err != nil {
			log.Warn("dropping malformed relay message: %v", err)
			continue
		}

		if msg.Op == protocol.OpSnapshot {
			c.mu.Lock()
			sub := c.subs[msg.Sub]
			c.mu.Unlock()
			if sub != nil {
				sub.put(msg.Record)
			}
			continue
		}

		c.mu.Lock()
		ch, ok := c.pending[msg.ID]
		delete(c.pending, msg.ID)
		c.mu.Unlock()
		if ok {
			ch <- msg
		}
	}
}

// shutdown fails every pending request and ends every subscription.
func (c *Client) shutdown(err error) {
	c.closeMu.Do(func() {
		c.mu.Lock()
		c.err = err
		subs := c.subs
		c.subs = make(map[uint64]*clientSub)
		c.mu.Unlock()

		close(c.done)
		c.conn.Close()
		for _, sub := range subs {
			sub.end()
		}
	})
}

func (c *Client) write(msg *protocol.Message) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// call sends msg and waits for the matching result.
func (c *Client) call(ctx context.Context, msg *protocol.Message) (*protocol.Message, error) {
	reply := make(chan *protocol.Message, 1)

	c.mu.Lock()
	if c.err != nil {
		c.mu.Unlock()
		return nil, c.err
	}
	c.nextID++
	msg.ID = c.nextID
	c.pending[msg.ID] = reply
	c.mu.Unlock()

	forget := func() {
		c.mu.Lock()
		delete(c.pending, msg.ID)
		c.mu.Unlock()
	}

	if err := c.write(msg); err != nil {
		forget()
		return nil, fmt.Errorf("relay %s: %w", msg.Op, err)
	}

	select {
	case r := <-reply:
		if r.Op == protocol.OpError {
			return nil, protocol.ErrorFrom(r)
		}
		return r, nil
	case <-ctx.Done():
		forget()
		return nil, ctx.Err()
	case <-c.done:
		return nil, ErrDisconnected
	}
}

func (c *Client) Insert(ctx context.Context, rec *record.Record) (*record.Record, error) {
	r, err := c.call(ctx, &protocol.Message{Op: protocol.OpInsert, Code: rec.Code, Record: rec})
	if err != nil {
		return nil, err
	}
	return r.Record, nil
}

func (c *Client) Get(ctx context.Context, code string) (*record.Record, error) {
	r, err := c.call(ctx, &protocol.Message{Op: protocol.OpGet, Code: code})
	if err != nil {
		return nil, err
	}
	return r.Record, nil
}

func (c *Client) Update(ctx context.Context, code string, m record.Mutation) (*record.Record, error) {
	r, err := c.call(ctx, &protocol.Message{Op: protocol.OpUpdate, Code: code, Mutation: &m})
	if err != nil {
		return nil, err
	}
	return r.Record, nil
}

// Subscribe registers the subscription locally before asking the server,
// so a snapshot that races the reply is not dropped.
func (c *Client) Subscribe(ctx context.Context, code string) (store.Subscription, error) {
	c.mu.Lock()
	if c.err != nil {
		c.mu.Unlock()
		return nil, c.err
	}
	c.nextID++
	id := c.nextID
	sub := &clientSub{client: c, id: id, box: store.NewMailbox(), done: make(chan struct{})}
	c.subs[id] = sub
	c.mu.Unlock()

	if _, err := c.call(ctx, &protocol.Message{Op: protocol.OpSubscribe, Code: code, Sub: id}); err != nil {
		c.dropSub(id)
		return nil, err
	}

	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-sub.done:
		}
	}()
	return sub, nil
}

func (c *Client) dropSub(id uint64) *clientSub {
	c.mu.Lock()
	defer c.mu.Unlock()
	sub := c.subs[id]
	delete(c.subs, id)
	return sub
}

// Close closes the connection.
func (c *Client) Close() error {
	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
	c.writeMu.Unlock()
	c.shutdown(store.ErrStoreClosed)
	return nil
}

type clientSub struct {
	client *Client
	id     uint64

	mu    sync.Mutex
	box   *store.Mailbox
	ended bool

	done chan struct{}
	once sync.Once
}

// put is only called from the client's read goroutine.
func (s *clientSub) put(rec *record.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ended {
		s.box.Put(rec)
	}
}

func (s *clientSub) end() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ended {
		s.ended = true
		s.box.Close()
	}
}

func (s *clientSub) Updates() <-chan *record.Record { return s.box.C() }

func (s *clientSub) Close() error {
	s.once.Do(func() {
		close(s.done)
		if s.client.dropSub(s.id) != nil {
			ctx, cancel := context.WithTimeout(context.Background(), writeWait)
			defer cancel()
			_, _ = s.client.call(ctx, &protocol.Message{Op: protocol.OpUnsubscribe, Sub: s.id})
		}
		s.end()
	})
	return nil
}
