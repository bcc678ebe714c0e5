package policy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ticketKeyPrefix namespaces ticket keys so rampart can share a Redis
// instance with other tenants.
const ticketKeyPrefix = "rampart:ticket:"

// resolveRetries bounds optimistic-lock retries when two resolvers race on
// the same ticket.
const resolveRetries = 3

// RedisTicketStore persists tickets in Redis so confirmations survive a
// gateway restart and are visible across replicas. Cleanup is native: every
// key carries a TTL covering the ticket lifetime plus the retention window,
// and the expired status is still computed lazily on read inside that
// window, matching the in-memory store.
type RedisTicketStore struct {
	client *redis.Client
}

// NewRedisTicketStore connects and verifies the server is reachable.
func NewRedisTicketStore(ctx context.Context, addr, password string, db int) (*RedisTicketStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("policy: redis ping: %w", err)
	}
	return &RedisTicketStore{client: client}, nil
}

func ticketKey(id string) string { return ticketKeyPrefix + id }

func (s *RedisTicketStore) Create(ctx context.Context, t *Ticket) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("policy: encode ticket: %w", err)
	}
	ttl := time.Until(t.ExpiresAt) + ticketRetention
	if err := s.client.Set(ctx, ticketKey(t.ID), data, ttl).Err(); err != nil {
		return fmt.Errorf("policy: store ticket: %w", err)
	}
	return nil
}

func (s *RedisTicketStore) Get(ctx context.Context, id string) (*Ticket, error) {
	data, err := s.client.Get(ctx, ticketKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrTicketNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("policy: load ticket: %w", err)
	}
	var t Ticket
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("policy: decode ticket: %w", err)
	}
	expireLocked(&t, time.Now().UTC())
	return &t, nil
}

// Resolve flips an awaiting ticket exactly once, using WATCH so two
// concurrent confirmations cannot both win.
func (s *RedisTicketStore) Resolve(ctx context.Context, id string, approve bool) (*Ticket, error) {
	key := ticketKey(id)
	var resolved *Ticket

	txn := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrTicketNotFound
		}
		if err != nil {
			return err
		}
		var t Ticket
		if err := json.Unmarshal(data, &t); err != nil {
			return fmt.Errorf("decode ticket: %w", err)
		}
		expireLocked(&t, time.Now().UTC())
		switch t.Status {
		case TicketAwaiting:
		case TicketExpired:
			return ErrTicketExpired
		default:
			return ErrTicketResolved
		}

		now := time.Now().UTC()
		t.ResolvedAt = &now
		if approve {
			t.Status = TicketApproved
		} else {
			t.Status = TicketRejected
		}
		out, err := json.Marshal(&t)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, out, ticketRetention)
			return nil
		})
		if err == nil {
			resolved = &t
		}
		return err
	}

	for range resolveRetries {
		err := s.client.Watch(ctx, txn, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return resolved, nil
	}
	return nil, ErrTicketResolved
}

func (s *RedisTicketStore) Close() error {
	return s.client.Close()
}
