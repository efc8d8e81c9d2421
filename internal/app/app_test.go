package app

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/intern-crm/internal/config"
	"github.com/cuongbtq/intern-crm/internal/source"
)

func TestInitSource(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("process", func(t *testing.T) {
		src, err := initSource(&config.IngestConfig{
			Source:  config.SourceProcess,
			Command: "python3",
			Args:    []string{"fetch.py"},
		}, logger)
		require.NoError(t, err)
		assert.IsType(t, &source.ProcessSource{}, src)
	})

	t.Run("file", func(t *testing.T) {
		src, err := initSource(&config.IngestConfig{
			Source:   config.SourceFile,
			FilePath: "listings.json",
		}, logger)
		require.NoError(t, err)
		assert.Equal(t, "file:listings.json", src.Name())
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := initSource(&config.IngestConfig{Source: "ftp"}, logger)
		assert.Error(t, err)
	})
}
