package storage

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocal_SaveOpenRemove(t *testing.T) {
	l, err := NewLocal(t.TempDir(), 0)
	require.NoError(t, err)

	rel, err := l.Save(context.Background(), "01HOWNER", "cover.PNG", strings.NewReader("png-bytes"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(rel, "users/01HOWNER/"))
	assert.True(t, strings.HasSuffix(rel, ".png"))

	rc, ctype, err := l.Open(rel)
	require.NoError(t, err)
	b, err := io.ReadAll(rc)
	require.NoError(t, rc.Close())
	require.NoError(t, err)
	assert.Equal(t, "png-bytes", string(b))
	assert.Equal(t, "image/png", ctype)

	require.NoError(t, l.Remove(rel))
	_, _, err = l.Open(rel)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, l.Remove(rel))
}

func TestLocal_Rejects(t *testing.T) {
	l, err := NewLocal(t.TempDir(), 4)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = l.Save(ctx, "u1", "evil.exe", strings.NewReader("x"))
	assert.ErrorIs(t, err, ErrUnsupportedType)

	_, err = l.Save(ctx, "u1", "big.jpg", bytes.NewReader(make([]byte, 5)))
	assert.ErrorIs(t, err, ErrTooLarge)

	_, err = l.Save(ctx, "../u1", "a.jpg", strings.NewReader("x"))
	assert.Error(t, err)

	_, _, err = l.Open("../../etc/passwd")
	assert.ErrorIs(t, err, ErrNotFound)
}
