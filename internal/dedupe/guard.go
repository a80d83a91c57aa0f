package dedupe

import (
	"context"
	"fmt"
	"log/slog"
)

// Outcome is the guard's verdict.
type Outcome int

const (
	Ready Outcome = iota
	Duplicate
)

func (o Outcome) String() string {
	if o == Duplicate {
		return "duplicate"
	}
	return "ready"
}

// ExistenceChecker is the slice of the store the guard needs.
type ExistenceChecker interface {
	Exists(ctx context.Context, fingerprint string) (bool, error)
	ExistsContentHash(ctx context.Context, contentHash string) (bool, error)
}

// Guard runs the optimistic pre-check against the store.
type Guard struct {
	store  ExistenceChecker
	logger *slog.Logger
}

// NewGuard builds a Guard.
func NewGuard(store ExistenceChecker, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{store: store, logger: logger}
}

// Check consults both duplicate classes: the file-level content hash first
// (cheapest to decide), then the semantic fingerprint. A Ready outcome is
// optimistic — concurrent runs racing on the same fingerprint are resolved
// by the store's uniqueness constraint, and the losing writer is told
// duplicate by Persist after the fact.
func (g *Guard) Check(ctx context.Context, fingerprint, contentHash string) (Outcome, error) {
	if contentHash != "" {
		ok, err := g.store.ExistsContentHash(ctx, contentHash)
		if err != nil {
			return Ready, fmt.Errorf("content hash pre-check: %w", err)
		}
		if ok {
			g.logger.Info("duplicate source file", "content_hash", contentHash[:12])
			return Duplicate, nil
		}
	}

	ok, err := g.store.Exists(ctx, fingerprint)
	if err != nil {
		return Ready, fmt.Errorf("fingerprint pre-check: %w", err)
	}
	if ok {
		g.logger.Info("duplicate fingerprint", "fingerprint", fingerprint[:12])
		return Duplicate, nil
	}
	return Ready, nil
}
