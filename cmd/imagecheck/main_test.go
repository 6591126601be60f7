package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ortaieb/image-checker/internal/services"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadBatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "batch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
callbackUrl: http://hooks.local/done
requests:
  - id: one
    imagePath: a.jpg
    content: a red door
    lat: 10.5
    long: -3.25
    maxDistance: 50
  - imagePath: b.jpg
    content: a bicycle
    start: "2025-01-01T10:00:00Z"
    duration: 30
`), 0o600))

	reqs, err := loadBatch(path, "http://ignored")
	require.NoError(t, err)
	require.Len(t, reqs, 2)

	assert.Equal(t, "one", reqs[0].ProcessingID)
	assert.Equal(t, "http://hooks.local/done", reqs[0].CallbackURL)
	require.NotNil(t, reqs[0].Analysis.Location)
	assert.Equal(t, 10.5, reqs[0].Analysis.Location.Lat)
	assert.Nil(t, reqs[0].Analysis.DateTime)

	assert.Nil(t, reqs[1].Analysis.Location)
	require.NotNil(t, reqs[1].Analysis.DateTime)
	assert.Equal(t, 2, reqs[1].Analysis.DateTime.FieldCount())
}

func TestLoadBatchRejectsIncompleteEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "batch.yaml")
	require.NoError(t, os.WriteFile(path, []byte("requests:\n  - imagePath: a.jpg\n"), 0o600))
	_, err := loadBatch(path, "")
	assert.ErrorContains(t, err, "content")
}

func TestSubmitFlagsBuild(t *testing.T) {
	var f submitFlags
	cmd := &cobra.Command{Use: "submit"}
	f.bind(cmd)
	require.NoError(t, cmd.Flags().Parse([]string{
		"--image-path", "x.jpg", "--content", "a lighthouse", "--lat", "0", "--long", "0", "--max-distance", "10", "--end", "2025-01-01T10:00:00Z", "--duration", "15",
	}))

	req, err := f.build(cmd, profile{CallbackURL: "http://cb.local"})
	require.NoError(t, err)
	require.NotNil(t, req.Analysis.Location)
	assert.Equal(t, 10.0, req.Analysis.Location.MaxDistance)
	require.NotNil(t, req.Analysis.DateTime)
	assert.Equal(t, 15, *req.Analysis.DateTime.Duration)
	assert.Equal(t, "http://cb.local", req.CallbackURL)

	var empty submitFlags
	cmd = &cobra.Command{Use: "submit"}
	empty.bind(cmd)
	require.NoError(t, cmd.Flags().Parse([]string{"--content", "x"}))
	_, err = empty.build(cmd, profile{})
	assert.Error(t, err)
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"processing-id":"a"}`)
	sig := services.Sign("secret", 1700000000, body)
	assert.True(t, verifySignature("secret", 1700000000, body, sig))
	assert.False(t, verifySignature("secret", 1700000001, body, sig))
	assert.False(t, verifySignature("other", 1700000000, body, sig))
}
