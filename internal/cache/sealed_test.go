package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSealedStoreEncryptsAtRest(t *testing.T) {
	inner := NewMemoryStore(nil)
	store, err := NewSealedStore(inner, []byte("cache-secret"))
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "whiteboard:token:room-1:admin", []byte("NETLESSROOM_abc"), time.Minute))

	raw, ok, err := inner.Get(ctx, "whiteboard:token:room-1:admin")
	require.NoError(t, err)
	require.True(t, ok)
	require.NotContains(t, string(raw), "NETLESSROOM_abc")

	value, ok, err := store.Get(ctx, "whiteboard:token:room-1:admin")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "NETLESSROOM_abc", string(value))
}

func TestSealedStoreRotatedKeyReadsAsMiss(t *testing.T) {
	inner := NewMemoryStore(nil)
	ctx := context.Background()

	first, err := NewSealedStore(inner, []byte("old-secret"))
	require.NoError(t, err)
	require.NoError(t, first.Set(ctx, "state", []byte(`{"page":1}`), 0))

	second, err := NewSealedStore(inner, []byte("new-secret"))
	require.NoError(t, err)
	_, ok, err := second.Get(ctx, "state")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, inner.Set(ctx, "garbage", []byte("%%%"), 0))
	_, ok, err = second.Get(ctx, "garbage")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSealedStoreCountersPassThrough(t *testing.T) {
	store, err := NewSealedStore(NewMemoryStore(nil), []byte("cache-secret"))
	require.NoError(t, err)

	claimed, err := Claim(context.Background(), store, "reminder:s1:10", time.Minute)
	require.NoError(t, err)
	require.True(t, claimed)
	claimed, err = Claim(context.Background(), store, "reminder:s1:10", time.Minute)
	require.NoError(t, err)
	require.False(t, claimed)
}

func TestNewSealedStoreValidates(t *testing.T) {
	_, err := NewSealedStore(nil, []byte("secret"))
	require.Error(t, err)
	_, err = NewSealedStore(NewMemoryStore(nil), nil)
	require.Error(t, err)
}
