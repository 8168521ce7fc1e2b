package cache

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEncodeDatafile(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		revision int64
		data     []byte
		expected string
	}{
		{name: "happy path", revision: 42, data: []byte(`{"revision":42}`), expected: `42|{"revision":42}`},
		{name: "max int64", revision: 9223372036854775807, data: []byte(`{}`), expected: `9223372036854775807|{}`},
		{name: "revision zero", revision: 0, data: []byte(`{"tag":"all"}`), expected: `0|{"tag":"all"}`},
		{name: "pipes in payload", revision: 5, data: []byte(`{"key":"a|b"}`), expected: `5|{"key":"a|b"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, encodeDatafile(tt.data, tt.revision))
		})
	}
}

func TestDecodeDatafile(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		encoded  string
		expected string
	}{
		{name: "happy path", encoded: `42|{"revision":42}`, expected: `{"revision":42}`},
		{name: "pipes in payload", encoded: `5|{"key":"a|b"}`, expected: `{"key":"a|b"}`},
		{name: "empty payload", encoded: "1|", expected: ""},
		{name: "no prefix", encoded: `{"revision":1}`, expected: `{"revision":1}`},
		{name: "separator at the limit", encoded: "1234567890123456789|" + strings.Repeat("x", 100), expected: strings.Repeat("x", 100)},
		{name: "separator past the limit", encoded: strings.Repeat("0", 21) + "|data", expected: strings.Repeat("0", 21) + "|data"},
		{name: "shorter than the limit", encoded: "abc", expected: "abc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, decodeDatafile(tt.encoded))
		})
	}
}

func TestSetResult_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "skipped", SetResultSkipped.String())
	assert.Equal(t, "updated", SetResultUpdated.String())
	assert.Equal(t, "repaired", SetResultRepaired.String())
	assert.Equal(t, "unknown", SetResult(9).String())
}

func TestNotification_Name(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "production/web", Notification{Environment: "production", Tag: "web", Revision: 3}.Name())
}
