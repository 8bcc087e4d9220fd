package cookies

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseNetscape(t *testing.T) {
	now := time.Unix(1700000000, 0)
	input := strings.Join([]string{
		"# Netscape HTTP Cookie File",
		"",
		".example.com\tTRUE\t/\tTRUE\t1800000000\tsid\tabc",
		"#HttpOnly_api.example.com\tFALSE\t/v1\tFALSE\t0\ttoken\txyz",
		"old.example.com\tFALSE\t/\tFALSE\t1600000000\tstale\t1",
		"broken line",
		"example.com\tFALSE\t/\tFALSE\tsoon\tbad\t1",
	}, "\n")

	cookies, skipped, err := ParseNetscape(strings.NewReader(input), now)
	require.NoError(t, err)
	assert.Equal(t, 3, skipped)
	require.Len(t, cookies, 2)

	sid := cookies[0]
	assert.Equal(t, "sid", sid.Name)
	assert.Equal(t, "example.com", sid.Domain)
	assert.False(t, sid.HostOnly)
	assert.True(t, sid.Secure)
	assert.True(t, sid.Persistent)
	assert.Equal(t, int64(1800000000), sid.Expires.Unix())

	token := cookies[1]
	assert.Equal(t, "api.example.com", token.Domain)
	assert.True(t, token.HostOnly)
	assert.True(t, token.HttpOnly)
	assert.False(t, token.Persistent)
	assert.Equal(t, "/v1", token.Path)
}

func TestExportNetscape(t *testing.T) {
	cookies := []*Cookie{
		{Name: "sid", Value: "abc", Domain: "example.com", Path: "/", Secure: true,
			Persistent: true, Expires: time.Unix(1800000000, 0)},
		{Name: "token", Value: "xyz", Domain: "api.example.com", Path: "/v1", HostOnly: true, HttpOnly: true},
	}

	var buf bytes.Buffer
	require.NoError(t, ExportNetscape(&buf, cookies))

	assert.Equal(t, "# Netscape HTTP Cookie File\n"+
		".example.com\tTRUE\t/\tTRUE\t1800000000\tsid\tabc\n"+
		"#HttpOnly_api.example.com\tFALSE\t/v1\tFALSE\t0\ttoken\txyz\n",
		buf.String())

	t.Run("parses back", func(t *testing.T) {
		parsed, skipped, err := ParseNetscape(&buf, time.Unix(1700000000, 0))
		require.NoError(t, err)
		assert.Zero(t, skipped)
		require.Len(t, parsed, 2)
		assert.Equal(t, cookies[0].Expires.Unix(), parsed[0].Expires.Unix())
		assert.Equal(t, cookies[1].HostOnly, parsed[1].HostOnly)
		assert.Equal(t, cookies[1].HttpOnly, parsed[1].HttpOnly)
	})
}
