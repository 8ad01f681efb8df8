package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, path, kmsProvider string) {
	t.Helper()
	content := "kms_provider: " + kmsProvider + "\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestWatcherLoadsInitialConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfigFile(t, path, "local")

	w, err := NewWatcher(path, nil)
	require.NoError(t, err)
	defer w.Close()

	require.NotNil(t, w.Config())
	assert.Equal(t, "local", w.Config().KMSProvider)
	assert.NotNil(t, w.SchemaMap())
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfigFile(t, path, "local")

	reloaded := make(chan *Config, 4)
	w, err := NewWatcher(path, func(cfg *Config, err error) {
		if err == nil {
			reloaded <- cfg
		}
	})
	require.NoError(t, err)
	defer w.Close()

	<-reloaded // initial load

	writeConfigFile(t, path, "aws")

	select {
	case cfg := <-reloaded:
		assert.Equal(t, "aws", cfg.KMSProvider)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload after file write")
	}
	assert.Equal(t, "aws", w.Config().KMSProvider)
}

func TestWatcherReportsParseErrorsWithoutOverwritingLastGood(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfigFile(t, path, "local")

	errs := make(chan error, 4)
	w, err := NewWatcher(path, func(cfg *Config, err error) {
		if err != nil {
			errs <- err
		}
	})
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(path, []byte("kms_provider: [unterminated"), 0o644))

	select {
	case <-errs:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload error")
	}
	assert.Equal(t, "local", w.Config().KMSProvider, "last good config must survive a bad reload")
}
