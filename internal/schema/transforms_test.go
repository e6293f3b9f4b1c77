package schema

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustTransform(t *testing.T, name string) Transform {
	t.Helper()
	fn, err := LookupTransform(name)
	require.NoError(t, err)
	require.NotNil(t, fn)
	return fn
}

func TestLookupTransform(t *testing.T) {
	fn, err := LookupTransform("")
	require.NoError(t, err)
	assert.Nil(t, fn)

	for _, name := range []string{"first", "join", "date", "amount", "js: values[0]"} {
		mustTransform(t, name)
	}

	_, err = LookupTransform("uppercase")
	assert.Error(t, err)
	_, err = LookupTransform("js:   ")
	assert.Error(t, err)
}

func TestDateTransform(t *testing.T) {
	fn := mustTransform(t, "date")
	ctx := context.Background()

	cases := map[string]string{
		"2026-01-15":       "2026-01-15",
		"2026/01/15":       "2026-01-15",
		"01/15/2026":       "2026-01-15",
		"15.01.2026":       "2026-01-15",
		"Jan 15, 2026":     "2026-01-15",
		"January 15, 2026": "2026-01-15",
		"15 Jan 2026":      "2026-01-15",
	}
	for in, want := range cases {
		got, err := fn(ctx, []string{in})
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	// first parseable candidate wins
	got, err := fn(ctx, []string{"not a date", "2026-03-01"})
	require.NoError(t, err)
	assert.Equal(t, "2026-03-01", got)

	_, err = fn(ctx, []string{"yesterday"})
	assert.Error(t, err)
}

func TestAmountTransform(t *testing.T) {
	fn := mustTransform(t, "amount")
	ctx := context.Background()

	cases := map[string]string{
		"1234.5":     "1234.50",
		"$1,234.56":  "1234.56",
		"€ 99":       "99.00",
		"£0.1":       "0.10",
		"-42.999":    "-43.00",
		"1 234,56":   "123456.00", // commas are thousands separators here
	}
	for in, want := range cases {
		got, err := fn(ctx, []string{in})
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := fn(ctx, []string{"123abc"})
	assert.Error(t, err)
	_, err = fn(ctx, []string{"  "})
	assert.Error(t, err)
}

func TestFirstAndJoinTransforms(t *testing.T) {
	ctx := context.Background()

	got, err := mustTransform(t, "first")(ctx, []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Equal(t, "a", got)

	got, err = mustTransform(t, "join")(ctx, []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Equal(t, "a b c", got)
}

func TestScriptTransform(t *testing.T) {
	ctx := context.Background()

	fn := mustTransform(t, "js: values[0].toUpperCase()")
	got, err := fn(ctx, []string{"acme corp"})
	require.NoError(t, err)
	assert.Equal(t, "ACME CORP", got)

	fn = mustTransform(t, "js: values.join('|')")
	got, err = fn(ctx, []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, "a|b", got)

	// a throw is a hard error
	fn = mustTransform(t, `js: (() => { throw new Error("bad value") })()`)
	_, err = fn(ctx, []string{"x"})
	assert.Error(t, err)

	// undefined result is a hard error
	fn = mustTransform(t, "js: undefined")
	_, err = fn(ctx, []string{"x"})
	assert.Error(t, err)
}

func TestScriptTransformHonorsContext(t *testing.T) {
	fn := mustTransform(t, "js: for(;;){}")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := fn(ctx, []string{"x"})
	assert.Error(t, err, "canceled context must interrupt the script")
}
