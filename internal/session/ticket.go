// Package session stores one-time connect tickets for push sessions.
//
// EventSource clients cannot set an Authorization header, so a client first
// trades its bearer token for a short-lived ticket over the authenticated
// API, then opens the stream with the ticket in the query string. A ticket
// redeems exactly once.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"leadflow.org/internal/auth"
	"leadflow.org/internal/ids"
)

const defaultTicketTTL = 30 * time.Second

// ErrTicketInvalid covers unknown, expired and already redeemed tickets. The
// three cases are indistinguishable to the caller.
var ErrTicketInvalid = errors.New("session: ticket invalid or expired")

type ticketData struct {
	UserID    string    `json:"user_id"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// TicketStore issues and redeems connect tickets backed by Redis, so tickets
// work across API replicas behind one load balancer.
type TicketStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewTicketStore connects to Redis using a URL like redis://host:6379/0.
func NewTicketStore(redisURL string) (*TicketStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewTicketStoreWithClient(client), nil
}

// NewTicketStoreWithClient creates a store from an existing Redis client.
func NewTicketStoreWithClient(client *redis.Client) *TicketStore {
	return &TicketStore{
		client: client,
		prefix: "ticket:",
		ttl:    defaultTicketTTL,
	}
}

func (s *TicketStore) key(ticket string) string {
	return s.prefix + ticket
}

// Issue creates a ticket bound to the principal. The ticket expires after a
// short TTL whether or not it is redeemed.
func (s *TicketStore) Issue(ctx context.Context, p auth.Principal) (string, error) {
	data, err := json.Marshal(ticketData{
		UserID:    p.ID,
		Role:      string(p.Role),
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return "", fmt.Errorf("marshal ticket: %w", err)
	}

	ticket := ids.New()
	if err := s.client.Set(ctx, s.key(ticket), data, s.ttl).Err(); err != nil {
		return "", fmt.Errorf("save ticket: %w", err)
	}
	return ticket, nil
}

// Redeem consumes a ticket and returns the principal it was issued to.
// GETDEL makes consumption atomic: two racing redeems of the same ticket
// cannot both succeed.
func (s *TicketStore) Redeem(ctx context.Context, ticket string) (auth.Principal, error) {
	raw, err := s.client.GetDel(ctx, s.key(ticket)).Result()
	if err == redis.Nil {
		return auth.Principal{}, ErrTicketInvalid
	}
	if err != nil {
		return auth.Principal{}, fmt.Errorf("redeem ticket: %w", err)
	}

	var data ticketData
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return auth.Principal{}, fmt.Errorf("unmarshal ticket: %w", err)
	}
	if data.UserID == "" {
		return auth.Principal{}, ErrTicketInvalid
	}
	return auth.Principal{ID: data.UserID, Role: auth.ParseRole(data.Role)}, nil
}

// Ping checks if Redis is reachable.
func (s *TicketStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (s *TicketStore) Close() error {
	return s.client.Close()
}
