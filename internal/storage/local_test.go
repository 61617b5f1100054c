package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appconfig "pehlione.com/settlement/internal/config"
)

func TestLocal_PutAndDelete(t *testing.T) {
	dir := t.TempDir()
	l := NewLocal(dir, "/reports/")

	res, err := l.Put(context.Background(), strings.NewReader("a,b\n1,2\n"), PutInput{
		Filename:    "reconcile.CSV",
		Prefix:      "reconcile/../2024-05-01",
		ContentType: "text/csv",
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(res.Key, "reconcile/2024-05-01/"))
	assert.True(t, strings.HasSuffix(res.Key, ".csv"))
	assert.Equal(t, "/reports/"+res.Key, res.URL)

	b, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(res.Key)))
	require.NoError(t, err)
	assert.Equal(t, "a,b\n1,2\n", string(b))

	require.NoError(t, l.Delete(context.Background(), res.Key))
	_, err = os.Stat(filepath.Join(dir, filepath.FromSlash(res.Key)))
	assert.True(t, os.IsNotExist(err))
}

func TestLocal_PutHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewLocal(t.TempDir(), "").Put(ctx, strings.NewReader("x"), PutInput{Filename: "a.csv"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSafeExt(t *testing.T) {
	assert.Equal(t, ".csv", safeExt("x.csv"))
	assert.Equal(t, ".json", safeExt("x.JSON"))
	assert.Equal(t, "", safeExt("x.exe"))
	assert.Equal(t, "", safeExt("noext"))
}

func TestNew(t *testing.T) {
	res, err := New(context.Background(), appconfig.StorageConfig{Driver: "local", LocalDir: t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, "local", res.Driver)

	_, err = New(context.Background(), appconfig.StorageConfig{Driver: "s3"})
	assert.Error(t, err)

	_, err = New(context.Background(), appconfig.StorageConfig{Driver: "ftp"})
	assert.Error(t, err)
}
