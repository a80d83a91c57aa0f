package dedupe

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestSemanticFingerprint(t *testing.T) {
	fp := SemanticFingerprint("AGL", date(2025, 7, 15), 312.45)
	assert.Len(t, fp, 64)

	t.Run("case and whitespace insensitive on provider", func(t *testing.T) {
		assert.Equal(t, fp, SemanticFingerprint("  agl ", date(2025, 7, 15), 312.45))
	})

	t.Run("amount compared at cent precision", func(t *testing.T) {
		assert.Equal(t, fp, SemanticFingerprint("AGL", date(2025, 7, 15), 312.454))
		assert.NotEqual(t, fp, SemanticFingerprint("AGL", date(2025, 7, 15), 312.46))
	})

	t.Run("date and provider are significant", func(t *testing.T) {
		assert.NotEqual(t, fp, SemanticFingerprint("AGL", date(2025, 7, 16), 312.45))
		assert.NotEqual(t, fp, SemanticFingerprint("Origin", date(2025, 7, 15), 312.45))
	})

	t.Run("time of day is ignored", func(t *testing.T) {
		noon := time.Date(2025, 7, 15, 12, 30, 0, 0, time.UTC)
		assert.Equal(t, fp, SemanticFingerprint("AGL", noon, 312.45))
	})
}

func TestContentHash(t *testing.T) {
	a := ContentHash([]byte("document one"))
	b := ContentHash([]byte("document two"))
	assert.Len(t, a, 64)
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, ContentHash([]byte("document one")))

	assert.Equal(t, "content:"+a, ContentFingerprint(a))
}

type fakeChecker struct {
	fingerprints map[string]bool
	hashes       map[string]bool
}

func (f *fakeChecker) Exists(_ context.Context, fp string) (bool, error) {
	return f.fingerprints[fp], nil
}

func (f *fakeChecker) ExistsContentHash(_ context.Context, h string) (bool, error) {
	return f.hashes[h], nil
}

func TestGuard_Check(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	checker := &fakeChecker{
		fingerprints: map[string]bool{"known-fingerprint": true},
		hashes:       map[string]bool{"known-hash": true},
	}
	guard := NewGuard(checker, logger)
	ctx := context.Background()

	tests := []struct {
		name        string
		fingerprint string
		contentHash string
		want        Outcome
	}{
		{"fresh document", "new-fingerprint", "new-hash", Ready},
		{"same file re-uploaded", "new-fingerprint", "known-hash", Duplicate},
		{"same invoice different file", "known-fingerprint", "new-hash", Duplicate},
		{"empty content hash skips file check", "known-fingerprint", "", Duplicate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := guard.Check(ctx, tt.fingerprint, tt.contentHash)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
