package payment

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestStoreChallengeRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store := NewStore(client, 10*time.Minute)
	ctx := context.Background()

	c := challengedSession(t, 5*time.Minute)
	require.NoError(t, store.SaveChallenge(ctx, c))

	loaded, err := store.LoadChallenge(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, StateChallenged, loaded.State)
	require.Equal(t, "otp_1", loaded.OTPRefID)
	require.True(t, loaded.ExpiresAt.Equal(c.ExpiresAt))

	mr.FastForward(11 * time.Minute)
	_, err = store.LoadChallenge(ctx, c.ID)
	require.ErrorIs(t, err, ErrChallengeNotFound)
}
