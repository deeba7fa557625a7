// File: internal/soul/attest.go
package soul

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/polislabs/polis/internal/store"
	"go.uber.org/zap"
)

const (
	secretDoc = "identity/attestation"
	// Platform is the attestation issuer name embedded in every attestation.
	Platform = "polis"
	// DefaultAttestationTTL bounds how long an attestation stays valid.
	DefaultAttestationTTL = time.Hour
)

// Attestation is a single-operator-grade identity proof: a keyed MAC over
// the agent id, the code-integrity hash and the issue timestamp. It is not a
// multi-tenant security mechanism.
type Attestation struct {
	Platform      string `json:"platform"`
	AgentID       string `json:"agentId"`
	Signature     string `json:"signature"`
	Timestamp     int64  `json:"timestamp"`
	Expiry        int64  `json:"expiry"`
	CodeIntegrity string `json:"codeIntegrity"`
}

type secretState struct {
	Secret    string `json:"secret"`
	CreatedAt int64  `json:"createdAt"`
}

// Attestor issues and verifies attestations with a locally persisted secret
// generated on first use.
type Attestor struct {
	store store.Store
	log   *zap.Logger
	ttl   time.Duration
	now   func() time.Time

	integrity string
}

// NewAttestor builds an attestor. A non-positive ttl falls back to the
// default one-hour validity.
func NewAttestor(s store.Store, logger *zap.Logger, ttl time.Duration) *Attestor {
	if ttl <= 0 {
		ttl = DefaultAttestationTTL
	}
	return &Attestor{store: s, log: logger.Named("attest"), ttl: ttl, now: time.Now}
}

// AttestIdentity issues a fresh attestation for the agent.
func (a *Attestor) AttestIdentity(ctx context.Context, agentID string) (Attestation, error) {
	secret, err := a.secret(ctx)
	if err != nil {
		return Attestation{}, err
	}
	ts := a.now().UnixMilli()
	integrity := a.codeIntegrity()
	return Attestation{
		Platform:      Platform,
		AgentID:       agentID,
		Signature:     sign(secret, agentID, integrity, ts),
		Timestamp:     ts,
		Expiry:        ts + a.ttl.Milliseconds(),
		CodeIntegrity: integrity,
	}, nil
}

// Verify checks the MAC and the expiry window.
func (a *Attestor) Verify(ctx context.Context, att Attestation) (bool, error) {
	secret, err := a.secret(ctx)
	if err != nil {
		return false, err
	}
	if a.now().UnixMilli() >= att.Expiry {
		return false, nil
	}
	want := sign(secret, att.AgentID, att.CodeIntegrity, att.Timestamp)
	return hmac.Equal([]byte(want), []byte(att.Signature)), nil
}

// Secret exposes the persisted signing key for sibling token issuers.
func (a *Attestor) Secret(ctx context.Context) ([]byte, error) {
	return a.secret(ctx)
}

func (a *Attestor) secret(ctx context.Context) ([]byte, error) {
	var state secretState
	err := a.store.Read(ctx, secretDoc, &state)
	if err == nil {
		return hex.DecodeString(state.Secret)
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("soul: generating attestation secret: %w", err)
	}
	state = secretState{Secret: hex.EncodeToString(raw), CreatedAt: a.now().UnixMilli()}
	if err := a.store.Write(ctx, secretDoc, &state); err != nil {
		return nil, err
	}
	a.log.Info("Attestation secret generated")
	return raw, nil
}

func sign(secret []byte, agentID, integrity string, ts int64) string {
	mac := hmac.New(sha256.New, secret)
	io.WriteString(mac, agentID+"|"+integrity+"|"+strconv.FormatInt(ts, 10))
	return hex.EncodeToString(mac.Sum(nil))
}

// codeIntegrity hashes the running executable once and caches the digest.
// When the binary cannot be read (for example under `go test`), a fixed
// marker keeps attestations consistent within the process.
func (a *Attestor) codeIntegrity() string {
	if a.integrity != "" {
		return a.integrity
	}
	a.integrity = "unverified"
	path, err := os.Executable()
	if err != nil {
		return a.integrity
	}
	f, err := os.Open(path)
	if err != nil {
		return a.integrity
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return a.integrity
	}
	a.integrity = hex.EncodeToString(h.Sum(nil))
	return a.integrity
}
