package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/geoipdb/geoipsync/internal/catalog"
	"github.com/geoipdb/geoipsync/internal/lockfile"
	"github.com/geoipdb/geoipsync/internal/syncer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{
			name: "held lock",
			err:  fmt.Errorf("run aborted: %w", &lockfile.AlreadyRunningError{PID: 42}),
			want: exitLocked,
		},
		{
			name: "auth failure",
			err:  &syncer.AuthFailure{Err: errors.New("HTTP 401")},
			want: exitAuthFailed,
		},
		{
			name: "download failures",
			err:  &downloadsFailedError{failed: 2, total: 7},
			want: exitDownloadsFailed,
		},
		{
			name: "anything else",
			err:  errors.New("config error"),
			want: exitError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(tt.err))
		})
	}
}

func TestDownloadsFailedErrorMessage(t *testing.T) {
	err := &downloadsFailedError{failed: 2, total: 7}
	assert.Equal(t, "2 of 7 databases failed to sync", err.Error())
}

func TestValidateDir(t *testing.T) {
	mmdbValid := append(bytes.Repeat([]byte{0x01}, 2048), []byte("\xab\xcd\xefMaxMind.com{}")...)
	mmdbInvalid := bytes.Repeat([]byte{0x01}, 2048)
	binTextual := bytes.Repeat([]byte("plain text\n"), 200)

	t.Run("empty directory", func(t *testing.T) {
		var out bytes.Buffer

		require.NoError(t, validateDir(&out, t.TempDir()))
		assert.Contains(t, out.String(), "no known database files")
	})

	t.Run("valid file", func(t *testing.T) {
		dir := t.TempDir()
		writeDB(t, dir, "GeoIP2-City.mmdb", mmdbValid)

		var out bytes.Buffer

		require.NoError(t, validateDir(&out, dir))
		assert.Contains(t, out.String(), "OK")
	})

	t.Run("invalid mmdb fails", func(t *testing.T) {
		dir := t.TempDir()
		writeDB(t, dir, "GeoIP2-City.mmdb", mmdbInvalid)

		var out bytes.Buffer

		err := validateDir(&out, dir)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed validation")
		assert.Contains(t, out.String(), "INVALID")
	})

	t.Run("too small file fails", func(t *testing.T) {
		dir := t.TempDir()
		writeDB(t, dir, "GeoIP2-City.mmdb", []byte("tiny"))

		var out bytes.Buffer

		err := validateDir(&out, dir)
		require.Error(t, err)
		assert.Contains(t, out.String(), "too small")
	})

	t.Run("unverifiable bin only warns", func(t *testing.T) {
		dir := t.TempDir()
		writeDB(t, dir, "IP2PROXY-IP-PROXYTYPE-COUNTRY.BIN", binTextual)

		var out bytes.Buffer

		require.NoError(t, validateDir(&out, dir))
		assert.Contains(t, out.String(), "WARNING")
	})
}

func TestDatabasesCommandListsCatalog(t *testing.T) {
	cmd := newDatabasesCmd()

	var out bytes.Buffer
	cmd.SetOut(&out)

	cmd.Run(cmd, nil)

	for _, spec := range catalog.Specs {
		assert.Contains(t, out.String(), spec.Name)
	}
}

func writeDB(t *testing.T, dir, name string, content []byte) {
	t.Helper()

	require.NoError(t, os.WriteFile(filepath.Join(dir, name), content, 0o644))
}
