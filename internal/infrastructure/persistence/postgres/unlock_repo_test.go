package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/unlock-gateway/internal/domain/shared"
	"github.com/alem-hub/unlock-gateway/internal/domain/unlock"
)

// A nil connection panics if a query is issued, so these cases prove the
// malformed id never reaches postgres.
func TestUnlockRepository_MalformedIDIsNotFound(t *testing.T) {
	repo := NewUnlockRepository(nil)
	ctx := context.Background()
	now := time.Now()

	for _, id := range []string{"not-a-uuid", "", "123", "missing"} {
		t.Run(id, func(t *testing.T) {
			s, err := repo.GetByID(ctx, id)
			assert.Nil(t, s)
			assert.ErrorIs(t, err, shared.ErrScheduleNotFound)

			assert.ErrorIs(t, repo.Expedite(ctx, id, now), shared.ErrScheduleNotFound)

			ok, err := repo.MarkUnlocked(ctx, id, unlock.UnlockAdminAction, now)
			require.NoError(t, err)
			assert.False(t, ok)

			ok, err = repo.MarkNotified(ctx, id, now)
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestValidID(t *testing.T) {
	assert.True(t, validID(uuid.NewString()))
	assert.False(t, validID("not-a-uuid"))
	assert.False(t, validID(""))
}
