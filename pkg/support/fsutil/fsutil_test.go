// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package fsutil

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"os/user"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReplaceTildeInDir(t *testing.T) {
	usr, err := user.Current()
	require.NoError(t, err)
	got, err := ReplaceTildeInDir("~/data/ISL")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(usr.HomeDir, "data/ISL"), got)

	got, err = ReplaceTildeInDir("/abs/path")
	require.NoError(t, err)
	assert.Equal(t, "/abs/path", got)
	assert.Equal(t, "", MustReplaceTildeInDir(""))
}

func TestFileExistsAndIsDir(t *testing.T) {
	dir := t.TempDir()
	filePath := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(filePath, []byte("x"), 0644))

	assert.True(t, MustFileExists(filePath))
	assert.False(t, MustFileExists(filepath.Join(dir, "missing")))

	isDir, err := IsDir(dir)
	require.NoError(t, err)
	assert.True(t, isDir)
	isDir, err = IsDir(filePath)
	require.NoError(t, err)
	assert.False(t, isDir)
	isDir, err = IsDir(filepath.Join(dir, "missing"))
	require.NoError(t, err)
	assert.False(t, isDir)
}

func TestValidateChecksum(t *testing.T) {
	dir := t.TempDir()
	contents := []byte("sign gestures")
	sum := sha256.Sum256(contents)
	goodHash := hex.EncodeToString(sum[:])

	filePath := filepath.Join(dir, "data.zip")
	require.NoError(t, os.WriteFile(filePath, contents, 0644))
	require.NoError(t, ValidateChecksum(filePath, goodHash))
	assert.True(t, MustFileExists(filePath))

	// A wrong hash removes the file.
	require.Error(t, ValidateChecksum(filePath, "00"+goodHash[2:]))
	assert.False(t, MustFileExists(filePath))
}

func TestCopyFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "model.tflite")
	require.NoError(t, os.WriteFile(src, []byte("0123456789"), 0644))
	dst := filepath.Join(dir, "app", "assets", "models", "model.tflite")
	n, err := CopyFile(src, dst)
	require.NoError(t, err)
	assert.Equal(t, int64(10), n)
	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "0123456789", string(got))
}
