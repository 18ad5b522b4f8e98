package clause

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	clauses, err := Parse(`com.acme.util;version=latest, junit;version="[4.0,5.0)";strategy=lowest, osgi.core;resolution:=optional`)
	require.NoError(t, err)
	require.Len(t, clauses, 3)

	assert.Equal(t, "com.acme.util", clauses[0].Name)
	assert.Equal(t, "latest", clauses[0].Attrs["version"])

	assert.Equal(t, "junit", clauses[1].Name)
	assert.Equal(t, "[4.0,5.0)", clauses[1].Attrs["version"])
	assert.Equal(t, "lowest", clauses[1].Attr("strategy", "highest"))

	assert.Equal(t, "optional", clauses[2].Attrs["resolution:"])
	assert.Equal(t, "fallback", clauses[2].Attr("version", "fallback"))
}

func TestParseEmpty(t *testing.T) {
	clauses, err := Parse("  ")
	require.NoError(t, err)
	assert.Empty(t, clauses)

	clauses, err = Parse("a,,b,")
	require.NoError(t, err)
	assert.Len(t, clauses, 2)
}

func TestParseDuplicates(t *testing.T) {
	clauses, err := Parse("a;version=1, a~;version=2")
	require.NoError(t, err)
	require.Len(t, clauses, 2)
	assert.Equal(t, "a", clauses[1].Key())
	assert.Equal(t, "2", clauses[1].Attrs["version"])
}

func TestParseErrors(t *testing.T) {
	inputs := []string{
		`a;version="[1,2)`,
		`;version=1`,
		`a;version`,
		`version=1`,
	}
	for _, in := range inputs {
		_, err := Parse(in)
		require.Error(t, err, "input %q", in)
		assert.True(t, errors.Is(err, ErrSyntax))
	}
}

func TestFormat(t *testing.T) {
	clauses, err := Parse(`b;version="[1,2)";repo=local, c`)
	require.NoError(t, err)
	assert.Equal(t, `b;repo=local;version="[1,2)", c`, Format(clauses))

	again, err := Parse(Format(clauses))
	require.NoError(t, err)
	assert.Equal(t, clauses, again)
}
