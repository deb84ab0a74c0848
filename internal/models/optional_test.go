package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptZeroValueIsUnset(t *testing.T) {
	var o Opt[string]
	assert.False(t, o.IsSet())
	assert.False(t, o.IsNull())
	_, ok := o.Value()
	assert.False(t, ok)
	assert.Nil(t, o.Ptr())
}

func TestOptSetValue(t *testing.T) {
	o := SetValue("hello")
	assert.True(t, o.IsSet())
	assert.False(t, o.IsNull())
	v, ok := o.Value()
	require.True(t, ok)
	assert.Equal(t, "hello", v)
	require.NotNil(t, o.Ptr())
	assert.Equal(t, "hello", *o.Ptr())
}

func TestOptSetNull(t *testing.T) {
	o := SetNull[int]()
	assert.True(t, o.IsSet())
	assert.True(t, o.IsNull())
	_, ok := o.Value()
	assert.False(t, ok)
	assert.Nil(t, o.Ptr())
}

func TestOptUnmarshalJSON(t *testing.T) {
	var payload struct {
		Name  Opt[string] `json:"name"`
		Count Opt[int]    `json:"count"`
		Gone  Opt[string] `json:"gone"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"name": "x", "count": null}`), &payload))

	v, ok := payload.Name.Value()
	require.True(t, ok)
	assert.Equal(t, "x", v)

	assert.True(t, payload.Count.IsNull())
	assert.False(t, payload.Gone.IsSet())
}

func TestOptMarshalJSON(t *testing.T) {
	raw, err := json.Marshal(SetValue(7))
	require.NoError(t, err)
	assert.Equal(t, "7", string(raw))

	raw, err = json.Marshal(SetNull[int]())
	require.NoError(t, err)
	assert.Equal(t, "null", string(raw))
}
