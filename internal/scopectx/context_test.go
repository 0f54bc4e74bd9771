package scopectx

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strptr(s string) *string { return &s }

func TestParseExactlyOneSide(t *testing.T) {
	scope, err := Parse(strptr("42"), nil)
	require.NoError(t, err)
	require.NotNil(t, scope.AgencyID)
	assert.Nil(t, scope.OwnerID)
	assert.Equal(t, "agency:42", scope.Key())

	scope, err = Parse(nil, strptr("7"))
	require.NoError(t, err)
	require.NotNil(t, scope.OwnerID)
	assert.Equal(t, "owner:7", scope.Key())

	_, err = Parse(nil, nil)
	assert.ErrorIs(t, err, ErrInvalidScope)

	_, err = Parse(strptr("42"), strptr("7"))
	assert.ErrorIs(t, err, ErrInvalidScope)
}

func TestParseRejectsGarbage(t *testing.T) {
	_, err := Parse(strptr("not-a-number"), nil)
	assert.ErrorIs(t, err, ErrInvalidScope)

	// Blank strings count as absent, so a blank agency with a real
	// owner still parses.
	scope, err := Parse(strptr("  "), strptr("7"))
	require.NoError(t, err)
	assert.NotNil(t, scope.OwnerID)
}

func TestScopeContextRoundTrip(t *testing.T) {
	scope, err := Parse(strptr("42"), nil)
	require.NoError(t, err)

	ctx := WithScope(context.Background(), scope)
	got, ok := ScopeFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, scope.Key(), got.Key())

	_, ok = ScopeFromContext(context.Background())
	assert.False(t, ok)

	// A stored zero scope reads back as absent.
	_, ok = ScopeFromContext(WithScope(context.Background(), Scope{}))
	assert.False(t, ok)
}
