package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStringList_ValueAndScan(t *testing.T) {
	list := StringList{"src-1_0", "src-1_1"}

	v, err := list.Value()
	require.NoError(t, err)
	assert.Equal(t, `["src-1_0","src-1_1"]`, v)

	var scanned StringList
	require.NoError(t, scanned.Scan(v))
	assert.Equal(t, list, scanned)
}

func TestStringList_EmptyAndNil(t *testing.T) {
	var empty StringList
	v, err := empty.Value()
	require.NoError(t, err)
	assert.Equal(t, "[]", v)

	var scanned StringList
	require.NoError(t, scanned.Scan(nil))
	assert.Nil(t, scanned)

	require.NoError(t, scanned.Scan([]byte(`["a"]`)))
	assert.Equal(t, StringList{"a"}, scanned)
}
