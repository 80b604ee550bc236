package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/1ureka/mirror/internal/record"
)

// Redis keeps each record as a JSON string under "session:<code>" and
// publishes every post-update snapshot on "session:<code>:updates".
// Updates run inside WATCH/MULTI so concurrent writers never lose a field.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

var _ Store = (*Redis)(nil)

// NewRedis wraps client. Records expire ttl after their last write; closed
// records are kept for closedTTL so late peers still observe the status.
func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Redis{client: client, ttl: ttl}
}

const closedTTL = 10 * time.Minute

func (s *Redis) key(code string) string     { return fmt.Sprintf("session:%s", code) }
func (s *Redis) channel(code string) string { return fmt.Sprintf("session:%s:updates", code) }

func (s *Redis) ttlFor(rec *record.Record) time.Duration {
	if rec.Status == record.StatusClosed {
		return closedTTL
	}
	return s.ttl
}

func (s *Redis) Insert(ctx context.Context, rec *record.Record) (*record.Record, error) {
	key := s.key(rec.Code)
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}

	txf := func(tx *redis.Tx) error {
		cur, err := s.load(ctx, tx, rec.Code)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		if cur != nil && cur.Open() {
			return fmt.Errorf("%w: code %s", ErrExists, rec.Code)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, s.ttl)
			return nil
		})
		return err
	}

	if err := s.watch(ctx, key, txf); err != nil {
		return nil, err
	}
	return rec.Clone(), nil
}

func (s *Redis) Get(ctx context.Context, code string) (*record.Record, error) {
	return s.load(ctx, s.client, code)
}

func (s *Redis) Update(ctx context.Context, code string, m record.Mutation) (*record.Record, error) {
	key := s.key(code)

	var (
		result  *record.Record
		payload []byte
	)
	txf := func(tx *redis.Tx) error {
		rec, err := s.load(ctx, tx, code)
		if err != nil {
			return err
		}
		changed, err := m.Apply(rec, now())
		if err != nil {
			return fmt.Errorf("update %s: %w", code, err)
		}
		result, payload = rec, nil
		if !changed {
			return nil
		}

		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, s.ttlFor(rec))
			return nil
		})
		if err == nil {
			payload = data
		}
		return err
	}

	if err := s.watch(ctx, key, txf); err != nil {
		return nil, err
	}
	if payload != nil {
		if err := s.client.Publish(ctx, s.channel(code), payload).Err(); err != nil {
			return nil, fmt.Errorf("publish %s: %w", code, err)
		}
	}
	return result, nil
}

// watch runs txf under WATCH key, retrying when another client won the race.
func (s *Redis) watch(ctx context.Context, key string, txf func(*redis.Tx) error) error {
	for i := 0; i < maxCASRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("%s: too much contention", key)
}

func (s *Redis) load(ctx context.Context, c getter, code string) (*record.Record, error) {
	data, err := c.Get(ctx, s.key(code)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: code %s", ErrNotFound, code)
	}
	if err != nil {
		return nil, err
	}
	var rec record.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode %s: %w", code, err)
	}
	return &rec, nil
}

func (s *Redis) Subscribe(ctx context.Context, code string) (Subscription, error) {
	ps := s.client.Subscribe(ctx, s.channel(code))
	// Wait for the subscription confirmation so no update published after
	// Subscribe returns can be missed.
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", code, err)
	}

	sub := &redisSub{
		ps:   ps,
		ch:   make(chan *record.Record, 16),
		done: make(chan struct{}),
	}
	go sub.loop(ctx)
	return sub, nil
}

// Close closes the underlying client.
func (s *Redis) Close() error {
	return s.client.Close()
}

// getter is satisfied by both *redis.Client and *redis.Tx.
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

type redisSub struct {
	ps   *redis.PubSub
	ch   chan *record.Record
	done chan struct{}
	once sync.Once
}

func (s *redisSub) loop(ctx context.Context) {
	defer close(s.ch)

	msgs := s.ps.Channel()
	for {
		select {
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			var rec record.Record
			if err := json.Unmarshal([]byte(msg.Payload), &rec); err != nil {
				continue
			}
			select {
			case s.ch <- &rec:
			case <-s.done:
				return
			case <-ctx.Done():
				return
			}
		case <-s.done:
			return
		case <-ctx.Done():
			s.Close()
			return
		}
	}
}

func (s *redisSub) Updates() <-chan *record.Record { return s.ch }

func (s *redisSub) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.ps.Close()
	})
	return err
}
