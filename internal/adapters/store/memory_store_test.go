package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/localdirectory/telemetry-core/pkg/errors"
)

func TestMemoryStore_GetSetDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, err := s.Get(ctx, "cached_user_location")
	assert.True(t, apperrors.IsNotFound(err))

	value := []byte(`{"latitude":1}`)
	require.NoError(t, s.Set(ctx, "cached_user_location", value))
	value[0] = 'X'

	got, err := s.Get(ctx, "cached_user_location")
	require.NoError(t, err)
	assert.Equal(t, `{"latitude":1}`, string(got), "store must keep its own copy")

	got[0] = 'Y'
	again, _ := s.Get(ctx, "cached_user_location")
	assert.Equal(t, `{"latitude":1}`, string(again))

	require.NoError(t, s.Delete(ctx, "cached_user_location"))
	require.NoError(t, s.Delete(ctx, "cached_user_location"))
	_, err = s.Get(ctx, "cached_user_location")
	assert.True(t, apperrors.IsNotFound(err))
	assert.Empty(t, s.Keys())
}
