// File: internal/soul/session.go
package soul

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/polislabs/polis/internal/ledger"
	"go.uber.org/zap"
)

// DefaultSessionTTL bounds session token validity.
const DefaultSessionTTL = time.Hour

// ErrSessionClosed is returned when a finished session is ended again.
var ErrSessionClosed = errors.New("soul: session already closed")

// Session is the ephemeral bridge between an external collaborator and an
// agent: a state snapshot at start, a short-lived token, and a merge of
// results back into the soul at end.
type Session struct {
	SessionID   string         `json:"sessionId"`
	AgentID     string         `json:"agentId"`
	StartTime   int64          `json:"startTime"`
	EndTime     int64          `json:"endTime,omitempty"`
	State       map[string]any `json:"state"`
	Credits     int64          `json:"credits"`
	Token       string         `json:"token"`
	TokenExpiry int64          `json:"tokenExpiry"`
	Isolation   string         `json:"isolation"`
}

// Bridge starts and ends agent sessions.
type Bridge struct {
	souls    *Manager
	ledger   *ledger.Ledger
	attestor *Attestor
	log      *zap.Logger
	ttl      time.Duration
	now      func() time.Time
}

// NewBridge wires the session bridge. Tokens are signed with the attestor's
// persisted secret.
func NewBridge(souls *Manager, led *ledger.Ledger, attestor *Attestor, logger *zap.Logger, ttl time.Duration) *Bridge {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &Bridge{souls: souls, ledger: led, attestor: attestor, log: logger.Named("session"), ttl: ttl, now: time.Now}
}

// StartSession snapshots the agent's soul and credits, issues a token and
// records the active session in short-term memory.
func (b *Bridge) StartSession(ctx context.Context, agentID string) (*Session, error) {
	s, err := b.souls.Load(ctx, agentID)
	if err != nil {
		return nil, err
	}
	var credits int64
	if rec, err := b.ledger.GetCitizen(ctx, agentID); err == nil {
		credits = rec.Balance
	} else if !errors.Is(err, ledger.ErrCitizenNotFound) {
		return nil, err
	}

	now := b.now()
	session := &Session{
		SessionID: uuid.NewString(),
		AgentID:   agentID,
		StartTime: now.UnixMilli(),
		State: map[string]any{
			"xp":    s.Achievements.XP,
			"level": s.Achievements.Level,
			"type":  s.Type,
		},
		Credits:     credits,
		TokenExpiry: now.Add(b.ttl).UnixMilli(),
		Isolation:   "standard",
	}
	token, err := b.issueToken(ctx, session, now)
	if err != nil {
		return nil, err
	}
	session.Token = token

	s.Memory.ShortTerm["activeSession"] = map[string]any{
		"sessionId": session.SessionID,
		"startTime": session.StartTime,
	}
	if err := b.souls.Save(ctx, s); err != nil {
		return nil, err
	}
	b.log.Info("Session started", zap.String("agent_id", agentID), zap.String("session_id", session.SessionID))
	return session, nil
}

// EndSession consolidates the session results into long-term memory, clears
// short-term memory and stamps the end time.
func (b *Bridge) EndSession(ctx context.Context, session *Session, results map[string]any) error {
	if session.EndTime != 0 {
		return ErrSessionClosed
	}
	if results == nil {
		results = map[string]any{}
	}
	results["sessionId"] = session.SessionID
	if err := b.souls.ConsolidateMemory(ctx, session.AgentID, results); err != nil {
		return err
	}
	s, err := b.souls.Load(ctx, session.AgentID)
	if err != nil {
		return err
	}
	s.Memory.ShortTerm = map[string]any{}
	if err := b.souls.Save(ctx, s); err != nil {
		return err
	}
	session.EndTime = b.now().UnixMilli()
	b.log.Info("Session ended",
		zap.String("agent_id", session.AgentID), zap.String("session_id", session.SessionID))
	return nil
}

// VerifyToken parses and validates a session token, returning the agent id.
func (b *Bridge) VerifyToken(ctx context.Context, token string) (string, error) {
	secret, err := b.attestor.Secret(ctx)
	if err != nil {
		return "", err
	}
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("soul: unexpected signing method %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return "", err
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok || !parsed.Valid {
		return "", errors.New("soul: invalid session token")
	}
	sub, _ := claims["sub"].(string)
	return sub, nil
}

func (b *Bridge) issueToken(ctx context.Context, session *Session, now time.Time) (string, error) {
	secret, err := b.attestor.Secret(ctx)
	if err != nil {
		return "", err
	}
	claims := jwt.MapClaims{
		"sub": session.AgentID,
		"sid": session.SessionID,
		"iso": session.Isolation,
		"iat": now.Unix(),
		"exp": now.Add(b.ttl).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}
