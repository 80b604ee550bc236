package relay

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/1ureka/mirror/internal/protocol"
	"github.com/1ureka/mirror/internal/record"
	"github.com/1ureka/mirror/internal/store"
)

// session serves one WebSocket connection. Requests are executed in arrival
// order on the read goroutine; snapshots are pushed by one forwarder per
// subscription. All writes go through send.
type session struct {
	store store.Store
	conn  *websocket.Conn

	writeMu sync.Mutex

	mu   sync.Mutex
	subs map[uint64]store.Subscription
}

func newSession(st store.Store, conn *websocket.Conn) *session {
	return &session{
		store: st,
		conn:  conn,
		subs:  make(map[uint64]store.Subscription),
	}
}

// send writes a message to the WebSocket, guarded by a mutex.
func (s *session) send(msg *protocol.Message) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *session) ping() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

func (s *session) serve(parent context.Context) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	defer func() {
		cancel()
		s.closeSubs()
		s.conn.Close()
	}()

	s.conn.SetReadLimit(protocol.MaxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := s.ping(); err != nil {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		msg, err := protocol.Decode(data)
		if err != nil {
			_ = s.send(&protocol.Message{Op: protocol.OpError, Error: err.Error(), Kind: protocol.KindBadRequest})
			continue
		}
		reply := s.handle(ctx, msg)
		reply.ID = msg.ID
		if err := s.send(reply); err != nil {
			log.Warn("write reply: %v", err)
			return
		}
	}
}

func (s *session) handle(ctx context.Context, msg *protocol.Message) *protocol.Message {
	switch msg.Op {
	case protocol.OpInsert:
		rec, err := s.store.Insert(ctx, msg.Record)
		return result(rec, err)

	case protocol.OpGet:
		rec, err := s.store.Get(ctx, msg.Code)
		return result(rec, err)

	case protocol.OpUpdate:
		rec, err := s.store.Update(ctx, msg.Code, *msg.Mutation)
		return result(rec, err)

	case protocol.OpSubscribe:
		if err := s.subscribe(ctx, msg.Code, msg.Sub); err != nil {
			return failure(err, protocol.KindBadRequest)
		}
		return &protocol.Message{Op: protocol.OpResult, Sub: msg.Sub}

	case protocol.OpUnsubscribe:
		s.unsubscribe(msg.Sub)
		return &protocol.Message{Op: protocol.OpResult, Sub: msg.Sub}
	}
	return failure(fmt.Errorf("op %q not accepted from clients", msg.Op), protocol.KindBadRequest)
}

func result(rec *record.Record, err error) *protocol.Message {
	if err != nil {
		return failure(err, protocol.KindOf(err))
	}
	return &protocol.Message{Op: protocol.OpResult, Record: rec}
}

func failure(err error, kind protocol.ErrorKind) *protocol.Message {
	return &protocol.Message{Op: protocol.OpError, Error: err.Error(), Kind: kind}
}

// subscribe registers a store subscription under the client-chosen id and
// starts forwarding its snapshots.
func (s *session) subscribe(ctx context.Context, code string, id uint64) error {
	if id == 0 {
		return fmt.Errorf("subscription id required")
	}

	s.mu.Lock()
	if _, dup := s.subs[id]; dup {
		s.mu.Unlock()
		return fmt.Errorf("subscription %d already exists", id)
	}
	s.mu.Unlock()

	sub, err := s.store.Subscribe(ctx, code)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.subs[id] = sub
	s.mu.Unlock()

	go func() {
		for rec := range sub.Updates() {
			if err := s.send(&protocol.Message{Op: protocol.OpSnapshot, Sub: id, Code: code, Record: rec}); err != nil {
				return
			}
		}
	}()
	return nil
}

func (s *session) unsubscribe(id uint64) {
	s.mu.Lock()
	sub, ok := s.subs[id]
	delete(s.subs, id)
	s.mu.Unlock()

	if ok {
		sub.Close()
	}
}

func (s *session) closeSubs() {
	s.mu.Lock()
	subs := s.subs
	s.subs = make(map[uint64]store.Subscription)
	s.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
}
