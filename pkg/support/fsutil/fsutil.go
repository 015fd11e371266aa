// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package fsutil contains utilities for working with the file system: existence checks, "~" expansion,
// checksum validation and file copies.
package fsutil

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// MustFileExists returns whether the file or directory exists.
// It panics on file system errors.
func MustFileExists(path string) bool {
	exists, err := FileExists(path)
	if err != nil {
		panic(err)
	}
	return exists
}

// FileExists returns whether the file or directory exists or an error if something went wrong in the filesystem.
func FileExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, errors.Wrapf(err, "failed to FileExists(%q)", path)
}

// IsDir returns whether path exists and is a directory.
func IsDir(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, errors.Wrapf(err, "failed to IsDir(%q)", path)
	}
	return info.IsDir(), nil
}

// MustReplaceTildeInDir by the user's home directory. Returns dir if it doesn't start with "~".
//
// It may panic with an error if `dir` has an unknown user (e.g: `~unknown/...`)
func MustReplaceTildeInDir(dir string) string {
	dir, err := ReplaceTildeInDir(dir)
	if err != nil {
		panic(err)
	}
	return dir
}

// ReplaceTildeInDir by the user's home directory. Returns dir if it doesn't start with "~".
//
// It returns an error if `dir` has an unknown user or some other filesystem error (e.g: `~unknown/...`)
func ReplaceTildeInDir(dir string) (string, error) {
	if len(dir) == 0 || dir[0] != '~' {
		return dir, nil
	}
	var userName string
	if dir != "~" && !strings.HasPrefix(dir, "~/") {
		sepIdx := strings.IndexRune(dir, '/')
		if sepIdx == -1 {
			userName = dir[1:]
		} else {
			userName = dir[1:sepIdx]
		}
	}
	var usr *user.User
	var err error
	if userName == "" {
		usr, err = user.Current()
	} else {
		usr, err = user.Lookup(userName)
	}
	if err != nil {
		return "", errors.Wrapf(err, "failed to lookup home directory for user in path %q", dir)
	}
	return filepath.Join(usr.HomeDir, dir[1+len(userName):]), nil
}

// ValidateChecksum verifies that the sha256 of the file in the given path matches checkHash.
// If it doesn't, the file is removed (!) and an error is returned.
func ValidateChecksum(path, checkHash string) error {
	hasher := sha256.New()
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "failed to open %q for checksum", path)
	}
	defer func() { _ = f.Close() }()
	if _, err = io.Copy(hasher, f); err != nil {
		return errors.Wrapf(err, "failed reading %q for checksum", path)
	}
	fileHash := hex.EncodeToString(hasher.Sum(nil))
	if fileHash != strings.ToLower(checkHash) {
		err = errors.Errorf("file %q sha256 hash is %q, but expected %q, deleting file", path, fileHash, checkHash)
		if e2 := os.Remove(path); e2 != nil {
			klog.Errorf("Failed to remove %q, which failed checksum test. Please remove it. %+v", path, e2)
		}
		return err
	}
	return nil
}

// CopyFile copies src to dst, creating dst's directory if needed. It returns the number of bytes copied.
func CopyFile(src, dst string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to open %q", src)
	}
	defer func() { _ = in.Close() }()
	if err = os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return 0, errors.Wrapf(err, "failed to create directory for %q", dst)
	}
	out, err := os.Create(dst)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to create %q", dst)
	}
	n, err := io.Copy(out, in)
	if err != nil {
		_ = out.Close()
		return n, errors.Wrapf(err, "failed copying %q to %q", src, dst)
	}
	if err = out.Close(); err != nil {
		return n, errors.Wrapf(err, "failed closing %q", dst)
	}
	return n, nil
}
