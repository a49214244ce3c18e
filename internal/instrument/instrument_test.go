package instrument

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	antiAddr = "HB8KrN7Bb3iLWUPsozp67kS4gxtbA4W5QJX4wKPvpump"
	proAddr  = "CWFa2nxUMf5d1WwKtG9FS9kjUKGwKXWSjH8hFdWspump"
)

func TestNewSet(t *testing.T) {
	set, err := NewSet([]Instrument{{Name: "ANTI", Address: antiAddr}, {Name: "PRO", Address: proAddr}})
	require.NoError(t, err)

	assert.Equal(t, 2, set.Len())
	assert.Equal(t, []string{antiAddr, proAddr}, set.Addresses())

	it, ok := set.Lookup("anti")
	require.True(t, ok)
	assert.Equal(t, antiAddr, it.Address)

	it, ok = set.Lookup(proAddr)
	require.True(t, ok)
	assert.Equal(t, "PRO", it.Name)

	_, ok = set.Lookup("doge")
	assert.False(t, ok)
	assert.True(t, set.Contains(antiAddr))
	assert.False(t, set.Contains("nope"))
}

func TestNewSetRejectsBadInput(t *testing.T) {
	_, err := NewSet(nil)
	require.Error(t, err)

	_, err = NewSet([]Instrument{{Name: "BAD", Address: "0OIl"}})
	require.True(t, errors.Is(err, ErrInvalidAddress))

	_, err = NewSet([]Instrument{{Name: "SHORT", Address: "abc"}})
	require.True(t, errors.Is(err, ErrInvalidAddress))

	_, err = NewSet([]Instrument{{Name: "ANTI", Address: antiAddr}, {Name: "anti", Address: proAddr}})
	require.True(t, errors.Is(err, ErrDuplicate))

	_, err = NewSet([]Instrument{{Name: "A", Address: antiAddr}, {Name: "B", Address: antiAddr}})
	require.True(t, errors.Is(err, ErrDuplicate))
}
