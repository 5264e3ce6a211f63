package resource

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	require := require.New(t)

	r := NewRegistry()
	require.Zero(r.Len())

	f := Static(&HandlerFuncs{})
	r.Register(MMI, f)
	r.Register(ResourceManager, f)
	require.Equal(2, r.Len())
	require.Equal([]ID{ResourceManager, MMI}, r.IDs())

	id, got, ok := r.Lookup(MMI)
	require.True(ok)
	require.Equal(MMI, id)
	require.NotNil(got)

	_, _, ok = r.Lookup(DateTime)
	require.False(ok)

	r.Register(MMI, nil)
	_, _, ok = r.Lookup(MMI)
	require.False(ok)
	require.Equal(1, r.Len())
}

func TestRegistry_VersionMatch(t *testing.T) {
	r := NewRegistry()
	r.Register(NewID(2, 1, 3), Static(&HandlerFuncs{}))
	r.Register(NewID(2, 1, 5), Static(&HandlerFuncs{}))

	tests := []struct {
		name      string
		requested ID
		found     ID
		ok        bool
	}{
		{"exact", NewID(2, 1, 5), NewID(2, 1, 5), true},
		{"older request gets lowest newer version", NewID(2, 1, 1), NewID(2, 1, 3), true},
		{"between versions", NewID(2, 1, 4), NewID(2, 1, 5), true},
		{"newer than registered", NewID(2, 1, 6), 0, false},
		{"other type", NewID(2, 2, 1), 0, false},
		{"private", ID(0xC0020041), 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			found, _, ok := r.Lookup(tt.requested)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.found, found)
		})
	}
}
