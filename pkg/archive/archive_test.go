package archive

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContentRef(t *testing.T) {
	ref, key := ContentRef("snapshots/", []byte("hello"))
	assert.Equal(t, "sha256:2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", ref)
	assert.Equal(t, "snapshots/2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824.blob", key)

	ref2, _ := ContentRef("", []byte("hello"))
	assert.Equal(t, ref, ref2, "reference does not depend on prefix")
}

func TestNew(t *testing.T) {
	ctx := context.Background()

	s, err := New(ctx, Config{})
	require.NoError(t, err)
	assert.Nil(t, s)

	s, err = New(ctx, Config{Backend: "NONE"})
	require.NoError(t, err)
	assert.Nil(t, s)

	_, err = New(ctx, Config{Backend: "ftp"})
	assert.Error(t, err)

	_, err = New(ctx, Config{Backend: BackendS3})
	assert.Error(t, err, "bucket is required")

	_, err = New(ctx, Config{Backend: BackendGCS})
	assert.Error(t, err, "bucket is required")
}
