package cookies

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDomainKey(t *testing.T) {
	assert.Equal(t, "cookies_for_domain_example.com", DomainKey("example.com"))
}

func TestEncodeDomain(t *testing.T) {
	exp := time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC)

	t.Run("keeps only persistent records", func(t *testing.T) {
		data, err := EncodeDomain([]*Cookie{
			{Name: "s", Value: "1", Domain: "example.com", Path: "/"},
			{Name: "p", Value: "2", Domain: "example.com", Path: "/x", Persistent: true, Expires: exp, Secure: true},
		})
		require.NoError(t, err)
		assert.JSONEq(t, `[{
			"name": "p", "value": "2", "expiresAt": 1772370000000,
			"domain": "example.com", "path": "/x",
			"secure": true, "httpOnly": false, "persistent": true, "hostOnly": false
		}]`, string(data))
	})

	t.Run("returns nil without persistent records", func(t *testing.T) {
		data, err := EncodeDomain([]*Cookie{{Name: "s", Value: "1"}})
		require.NoError(t, err)
		assert.Nil(t, data)
	})
}

func TestDecodeDomain(t *testing.T) {
	t.Run("restores records", func(t *testing.T) {
		records, err := DecodeDomain([]byte(`[{"name":"p","value":"2","expiresAt":1772370000000,
			"domain":".Example.com","path":"/","secure":false,"httpOnly":true,"persistent":true,"hostOnly":true}]`))
		require.NoError(t, err)
		require.Len(t, records, 1)

		c := records[0]
		assert.Equal(t, "example.com", c.Domain)
		assert.True(t, c.HttpOnly)
		assert.True(t, c.HostOnly)
		assert.True(t, c.Persistent)
		assert.Equal(t, int64(1772370000000), c.Expires.UnixMilli())
	})

	t.Run("rejects invalid blobs", func(t *testing.T) {
		for _, blob := range []string{
			`not json`,
			`{"name":"p"}`,
			`[{"name":"p","value":"1","persistent":false,"expiresAt":1}]`,
			`[{"name":"p","value":"1","persistent":true,"expiresAt":0}]`,
			`[{"name":"","value":"1","persistent":true,"expiresAt":1}]`,
		} {
			_, err := DecodeDomain([]byte(blob))
			assert.Error(t, err, blob)
		}
	})
}
