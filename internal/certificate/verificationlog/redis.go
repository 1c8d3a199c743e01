// Package verificationlog records public verification attempts. Entries carry
// the verifier's browser and platform parsed from the User-Agent header.
package verificationlog

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/mssola/useragent"
	"github.com/redis/go-redis/v9"

	"certledger/internal/certificate/service"
)

// DefaultMaxLen trims the stream to roughly this many entries.
const DefaultMaxLen = 100_000

// Client describes a verifier from its User-Agent header.
type Client struct {
	Browser string
	OS      string
	Mobile  bool
	Bot     bool
}

func ParseClient(ua string) Client {
	if ua == "" {
		return Client{}
	}
	parsed := useragent.New(ua)
	name, version := parsed.Browser()
	browser := name
	if version != "" {
		browser += " " + version
	}
	return Client{
		Browser: browser,
		OS:      parsed.OS(),
		Mobile:  parsed.Mobile(),
		Bot:     parsed.Bot(),
	}
}

type streamAdder interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// RedisLog appends events to a Redis stream.
type RedisLog struct {
	client streamAdder
	stream string
	maxLen int64
}

type Option func(*RedisLog)

func WithMaxLen(n int64) Option {
	return func(l *RedisLog) {
		if n > 0 {
			l.maxLen = n
		}
	}
}

func NewRedisLog(client *redis.Client, stream string, opts ...Option) *RedisLog {
	return newRedisLog(client, stream, opts...)
}

func newRedisLog(client streamAdder, stream string, opts ...Option) *RedisLog {
	l := &RedisLog{client: client, stream: stream, maxLen: DefaultMaxLen}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *RedisLog) Record(ctx context.Context, e service.VerificationEvent) error {
	client := ParseClient(e.UserAgent)
	return l.client.XAdd(ctx, &redis.XAddArgs{
		Stream: l.stream,
		MaxLen: l.maxLen,
		Approx: true,
		Values: map[string]any{
			"query":          e.Query,
			"certificate_id": e.CertificateID,
			"outcome":        e.Outcome,
			"client_ip":      e.ClientIP,
			"browser":        client.Browser,
			"os":             client.OS,
			"mobile":         strconv.FormatBool(client.Mobile),
			"bot":            strconv.FormatBool(client.Bot),
			"at":             e.At.UTC().Format(time.RFC3339Nano),
		},
	}).Err()
}

// Memory keeps the most recent events in process; used when Redis is not configured.
type Memory struct {
	mu     sync.Mutex
	events []service.VerificationEvent
	limit  int
}

func NewMemory(limit int) *Memory {
	if limit <= 0 {
		limit = 1000
	}
	return &Memory{limit: limit}
}

func (m *Memory) Record(_ context.Context, e service.VerificationEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	if len(m.events) > m.limit {
		m.events = m.events[len(m.events)-m.limit:]
	}
	return nil
}

// Events returns a copy of the retained events, oldest first.
func (m *Memory) Events() []service.VerificationEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]service.VerificationEvent(nil), m.events...)
}
