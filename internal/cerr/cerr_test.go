package cerr_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zdcode-core/internal/cerr"
)

func TestCompileErrorFormatting(t *testing.T) {
	e := cerr.WithPath([]string{"class A", "label Spawn"}, "unknown replacement %q", "@Foo")
	assert.Equal(t, `unknown replacement "@Foo" at class A at label Spawn`, e.Error())

	bare := cerr.New("bad thing")
	assert.Equal(t, "bad thing", bare.Error())
}

func TestCollectorKeepsFirstError(t *testing.T) {
	var c cerr.Collector
	require.False(t, c.Failed())

	c.Add(nil)
	require.False(t, c.Failed())

	c.Add(errors.New("first"))
	c.Add(errors.New("second"))

	require.True(t, c.Failed())
	assert.Equal(t, "first", c.Err().Error())
}

func TestMustRecover(t *testing.T) {
	run := func() (err error) {
		defer cerr.Recover(&err)
		cerr.Must(cerr.New("boom"))
		return nil
	}
	err := run()
	require.Error(t, err)
	assert.Equal(t, "boom", err.Error())
}
