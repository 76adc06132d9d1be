package language

import (
	"database/sql/driver"
	"testing"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in     string
		code   string
		suffix string
	}{
		{in: "", code: "", suffix: "und"},
		{in: "auto", code: "", suffix: "und"},
		{in: "en-US", code: "en", suffix: "en"},
		{in: "pt-BR", code: "pt", suffix: "pt"},
		{in: "not a language!", code: "", suffix: "und"},
	}
	for _, tt := range tests {
		tag := Parse(tt.in)
		assert.Equal(t, tt.code, tag.Code(), tt.in)
		assert.Equal(t, tt.suffix, tag.Suffix(), tt.in)
	}
}

func TestTag_ScanAndValue(t *testing.T) {
	var tag Tag
	require.NoError(t, tag.Scan("en-US"))
	assert.Equal(t, "en-US", tag.String())

	val, err := tag.Value()
	require.NoError(t, err)
	assert.Equal(t, "en-US", val)

	var empty Tag
	require.NoError(t, empty.Scan(nil))
	assert.Equal(t, Und, empty)

	val, err = empty.Value()
	require.NoError(t, err)
	assert.Nil(t, val)

	require.Error(t, tag.Scan(42))

	var _ driver.Valuer = Und
}

func TestTag_ScanTextAndTextValue(t *testing.T) {
	var tag Tag
	require.NoError(t, tag.ScanText(pgtype.Text{String: "fr", Valid: true}))

	text, err := tag.TextValue()
	require.NoError(t, err)
	assert.Equal(t, pgtype.Text{String: "fr", Valid: true}, text)

	require.NoError(t, tag.ScanText(pgtype.Text{}))
	assert.Equal(t, Und, tag)

	text, err = tag.TextValue()
	require.NoError(t, err)
	assert.False(t, text.Valid)
}
