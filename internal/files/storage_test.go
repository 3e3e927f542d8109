package files

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/devaloi/giftline/internal/domain"
)

// Smallest valid PNG: signature plus IHDR chunk header is enough for detection.
var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")

func TestDiskUploadURLDelete(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	d, err := NewDisk(t.TempDir(), "http://localhost:8080/files/")
	require.NoError(t, err)

	key, err := d.Upload(ctx, pngHeader)
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(key, ".png"), key)

	u, err := d.URL(ctx, key)
	require.NoError(t, err)
	require.Equal(t, "http://localhost:8080/files/"+key, u)

	_, err = os.Stat(filepath.Join(d.Dir(), key))
	require.NoError(t, err)

	require.NoError(t, d.Delete(ctx, key))
	_, err = d.URL(ctx, key)
	require.ErrorIs(t, err, domain.ErrNotFound)
	require.ErrorIs(t, d.Delete(ctx, key), domain.ErrNotFound)
}

func TestDiskRejectsBadInput(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	d, err := NewDisk(t.TempDir(), "/files")
	require.NoError(t, err)

	_, err = d.Upload(ctx, nil)
	require.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, err = d.Upload(ctx, make([]byte, MaxUploadSize+1))
	require.ErrorIs(t, err, domain.ErrInvalidArgument)

	for _, key := range []string{"", "../etc/passwd", "a/b", ".hidden"} {
		_, err := d.URL(ctx, key)
		require.ErrorIs(t, err, domain.ErrInvalidArgument, key)
	}
}
