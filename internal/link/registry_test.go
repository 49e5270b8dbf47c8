package link

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegistryOrderAndRemove(t *testing.T) {
	var r Registry[func() string]
	a := r.Add(func() string { return "a" })
	b := r.Add(func() string { return "b" })
	r.Add(func() string { return "c" })
	assert.NotEqual(t, a, b)
	assert.Equal(t, 3, r.Len())

	collect := func() []string {
		var got []string
		r.Dispatch(func(fn func() string) { got = append(got, fn()) })
		return got
	}
	assert.Equal(t, []string{"a", "b", "c"}, collect())

	assert.True(t, r.Remove(b))
	assert.False(t, r.Remove(b), "second remove")
	assert.Equal(t, []string{"a", "c"}, collect())
	assert.Equal(t, 2, r.Len())
}

func TestRegistryZeroValue(t *testing.T) {
	var r Registry[Callback]
	called := false
	r.Dispatch(func(Callback) { called = true })
	assert.False(t, called)
	assert.False(t, r.Remove(CallbackID{}))
}
