// Package events publishes what the token engine did: granted tokens, failed
// grants and UMA decisions.
package events

import (
	"context"
	"log/slog"
	mathrand "math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

type TokenGranted struct {
	ID        string
	ClientID  string
	Subject   string
	GrantType string
	Scope     string
	At        time.Time
}

type GrantFailed struct {
	ID        string
	ClientID  string
	GrantType string
	Code      string
	At        time.Time
}

type UMADecision struct {
	ID            string
	TicketID      string
	ClientID      string
	Outcome       string
	ResourceSetID string
	At            time.Time
}

type Publisher interface {
	TokenGranted(ctx context.Context, event TokenGranted)
	GrantFailed(ctx context.Context, event GrantFailed)
	UMADecision(ctx context.Context, event UMADecision)
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// NewID returns a lexicographically sortable event identifier.
func NewID(at time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(at), entropy).String()
}

type LogPublisher struct {
	logger *slog.Logger
}

func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) TokenGranted(ctx context.Context, event TokenGranted) {
	p.logger.InfoContext(ctx, "token granted",
		slog.String("event_id", event.ID),
		slog.String("client_id", event.ClientID),
		slog.String("subject", event.Subject),
		slog.String("grant_type", event.GrantType),
		slog.String("scope", event.Scope),
	)
}

func (p *LogPublisher) GrantFailed(ctx context.Context, event GrantFailed) {
	p.logger.WarnContext(ctx, "grant failed",
		slog.String("event_id", event.ID),
		slog.String("client_id", event.ClientID),
		slog.String("grant_type", event.GrantType),
		slog.String("error", event.Code),
	)
}

func (p *LogPublisher) UMADecision(ctx context.Context, event UMADecision) {
	p.logger.InfoContext(ctx, "uma decision",
		slog.String("event_id", event.ID),
		slog.String("ticket_id", event.TicketID),
		slog.String("client_id", event.ClientID),
		slog.String("outcome", event.Outcome),
		slog.String("resource_set_id", event.ResourceSetID),
	)
}

// Multi fans every event out to each publisher in order.
type Multi []Publisher

func (m Multi) TokenGranted(ctx context.Context, event TokenGranted) {
	for _, p := range m {
		p.TokenGranted(ctx, event)
	}
}

func (m Multi) GrantFailed(ctx context.Context, event GrantFailed) {
	for _, p := range m {
		p.GrantFailed(ctx, event)
	}
}

func (m Multi) UMADecision(ctx context.Context, event UMADecision) {
	for _, p := range m {
		p.UMADecision(ctx, event)
	}
}
