package filestore

import (
	"context"
	"net/http"
	"net/url"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/cookiestash/internal/cookies"
)

func TestOpen(t *testing.T) {
	t.Run("missing file is an empty store", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		s, err := Open(fs, "/data/cookies.json")
		require.NoError(t, err)

		keys, err := s.Keys(context.Background(), "")
		require.NoError(t, err)
		assert.Empty(t, keys)

		exists, err := afero.DirExists(fs, "/data")
		require.NoError(t, err)
		assert.True(t, exists)
	})

	t.Run("empty file is an empty store", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		require.NoError(t, afero.WriteFile(fs, "/cookies.json", nil, 0o600))

		_, err := Open(fs, "/cookies.json")
		require.NoError(t, err)
	})

	t.Run("corrupt file is an error", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		require.NoError(t, afero.WriteFile(fs, "/cookies.json", []byte("{"), 0o600))

		_, err := Open(fs, "/cookies.json")
		assert.Error(t, err)
	})
}

func TestStore_Apply(t *testing.T) {
	fs := afero.NewMemMapFs()
	ctx := context.Background()

	s, err := Open(fs, "/cookies.json")
	require.NoError(t, err)

	require.NoError(t, s.Apply(ctx, cookies.Batch{Puts: map[string][]byte{
		"cookies_for_domain_a.com": []byte(`[1]`),
		"cookies_for_domain_b.com": []byte(`[2]`),
	}}))
	require.NoError(t, s.Apply(ctx, cookies.Batch{Deletes: []string{"cookies_for_domain_b.com"}}))

	got, err := s.Get(ctx, "cookies_for_domain_a.com")
	require.NoError(t, err)
	assert.Equal(t, []byte(`[1]`), got)

	_, err = s.Get(ctx, "cookies_for_domain_b.com")
	assert.ErrorIs(t, err, cookies.ErrNotFound)

	tmpExists, err := afero.Exists(fs, "/cookies.json.tmp")
	require.NoError(t, err)
	assert.False(t, tmpExists)

	t.Run("reopen sees the same data", func(t *testing.T) {
		reopened, err := Open(fs, "/cookies.json")
		require.NoError(t, err)

		keys, err := reopened.Keys(ctx, cookies.KeyPrefix)
		require.NoError(t, err)
		assert.Equal(t, []string{"cookies_for_domain_a.com"}, keys)
	})
}

func TestStore_FailedWriteKeepsState(t *testing.T) {
	base := afero.NewMemMapFs()
	ctx := context.Background()

	s, err := Open(base, "/cookies.json")
	require.NoError(t, err)
	require.NoError(t, s.Apply(ctx, cookies.Batch{Puts: map[string][]byte{"k": []byte("v")}}))

	s.fs = afero.NewReadOnlyFs(base)
	err = s.Apply(ctx, cookies.Batch{Puts: map[string][]byte{"k": []byte("new")}})
	require.Error(t, err)

	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)
}

func TestStore_Closed(t *testing.T) {
	s, err := Open(afero.NewMemMapFs(), "/cookies.json")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	ctx := context.Background()
	_, err = s.Get(ctx, "k")
	assert.ErrorIs(t, err, cookies.ErrStoreClosed)
	_, err = s.Keys(ctx, "")
	assert.ErrorIs(t, err, cookies.ErrStoreClosed)
	assert.ErrorIs(t, s.Apply(ctx, cookies.Batch{Deletes: []string{"k"}}), cookies.ErrStoreClosed)
}

func TestStore_BacksAJar(t *testing.T) {
	fs := afero.NewMemMapFs()
	ctx := context.Background()
	u, err := url.Parse("https://www.example.com/")
	require.NoError(t, err)

	s, err := Open(fs, "/cookies.json")
	require.NoError(t, err)
	jar := cookies.New()
	require.NoError(t, jar.Init(ctx, s))
	require.NoError(t, jar.Save(u, []*http.Cookie{{Name: "pref", Value: "1", Domain: "example.com", Path: "/", MaxAge: 60}}))

	reopened, err := Open(fs, "/cookies.json")
	require.NoError(t, err)
	restarted := cookies.New()
	require.NoError(t, restarted.Init(ctx, reopened))

	header, err := restarted.Header(u)
	require.NoError(t, err)
	assert.Equal(t, "pref=1", header)
}
