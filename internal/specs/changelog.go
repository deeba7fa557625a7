// File: internal/specs/changelog.go
package specs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/polislabs/polis/internal/store"
	"go.uber.org/zap"
)

// Store document names for the change-tracking state.
const (
	RegistryDoc  = "specs/registry"
	ChangelogDoc = "specs/changelog"
	snapshotsDoc = "specs/snapshots"
)

// RegistryEntry is the last observed identity of one spec file.
type RegistryEntry struct {
	Version   string `json:"version"`
	Hash      string `json:"hash"`
	UpdatedAt int64  `json:"updatedAt"`
}

// DiffStats are multiset line counts between two document revisions.
type DiffStats struct {
	Added     int `json:"added"`
	Removed   int `json:"removed"`
	Unchanged int `json:"unchanged"`
}

// ChangeEntry is one append-only changelog record. FromHash is empty when the
// path was seen for the first time.
type ChangeEntry struct {
	ID        string    `json:"id"`
	Path      string    `json:"path"`
	FromHash  string    `json:"fromHash,omitempty"`
	ToHash    string    `json:"toHash"`
	Version   string    `json:"version"`
	Diff      DiffStats `json:"diff"`
	Timestamp int64     `json:"timestamp"`
}

type registryState struct {
	Specs map[string]RegistryEntry `json:"specs"`
}

type changelogState struct {
	Entries []ChangeEntry `json:"entries"`
}

// snapshotState keeps the latest raw content per path so the next change can
// be diffed line-by-line instead of degenerating to "everything added".
type snapshotState struct {
	Raw map[string]string `json:"raw"`
}

// ContentHash is the identity of a document revision.
func ContentHash(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// recordChange compares the parsed file against the registry and, when the
// content hash differs, appends exactly one changelog entry and advances the
// registry. Re-parsing unchanged content is a no-op.
func (i *Interpreter) recordChange(ctx context.Context, absPath, version string, raw []byte) error {
	hash := ContentHash(raw)

	var reg registryState
	err := i.store.Read(ctx, RegistryDoc, &reg)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	if reg.Specs == nil {
		reg.Specs = map[string]RegistryEntry{}
	}
	prev, seen := reg.Specs[absPath]
	if seen && prev.Hash == hash {
		return nil
	}

	var snaps snapshotState
	if err := i.store.Read(ctx, snapshotsDoc, &snaps); err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	if snaps.Raw == nil {
		snaps.Raw = map[string]string{}
	}

	entry := ChangeEntry{
		ID:        uuid.NewString(),
		Path:      absPath,
		ToHash:    hash,
		Version:   version,
		Diff:      diffLines(snaps.Raw[absPath], string(raw)),
		Timestamp: i.now().UnixMilli(),
	}
	if seen {
		entry.FromHash = prev.Hash
	}

	var log changelogState
	if err := i.store.Read(ctx, ChangelogDoc, &log); err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	log.Entries = append(log.Entries, entry)

	reg.Specs[absPath] = RegistryEntry{Version: version, Hash: hash, UpdatedAt: entry.Timestamp}
	snaps.Raw[absPath] = string(raw)

	if err := i.store.Write(ctx, ChangelogDoc, &log); err != nil {
		return err
	}
	if err := i.store.Write(ctx, snapshotsDoc, &snaps); err != nil {
		return err
	}
	if err := i.store.Write(ctx, RegistryDoc, &reg); err != nil {
		return err
	}

	i.log.Info("Spec change recorded",
		zap.String("path", absPath),
		zap.String("version", version),
		zap.Int("added", entry.Diff.Added),
		zap.Int("removed", entry.Diff.Removed))
	return nil
}

// Changelog returns all recorded entries in append order.
func (i *Interpreter) Changelog(ctx context.Context) ([]ChangeEntry, error) {
	var log changelogState
	err := i.store.Read(ctx, ChangelogDoc, &log)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return log.Entries, nil
}

// Registry returns the current path-to-identity map.
func (i *Interpreter) Registry(ctx context.Context) (map[string]RegistryEntry, error) {
	var reg registryState
	err := i.store.Read(ctx, RegistryDoc, &reg)
	if errors.Is(err, store.ErrNotFound) {
		return map[string]RegistryEntry{}, nil
	}
	if err != nil {
		return nil, err
	}
	if reg.Specs == nil {
		reg.Specs = map[string]RegistryEntry{}
	}
	return reg.Specs, nil
}

// diffLines computes order-insensitive multiset line counts. Unchanged is the
// sum over distinct lines of min(before, after); moved lines therefore count
// as unchanged.
func diffLines(before, after string) DiffStats {
	beforeLines := splitLines(before)
	afterLines := splitLines(after)

	counts := make(map[string]int, len(beforeLines))
	for _, line := range beforeLines {
		counts[line]++
	}
	unchanged := 0
	for _, line := range afterLines {
		if counts[line] > 0 {
			counts[line]--
			unchanged++
		}
	}
	return DiffStats{
		Added:     len(afterLines) - unchanged,
		Removed:   len(beforeLines) - unchanged,
		Unchanged: unchanged,
	}
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(strings.TrimSuffix(s, "\n"), "\n")
}
