// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package downloader provides functions for downloading and extracting files.
package downloader

import (
	"archive/zip"
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/gestures/pkg/support/fsutil"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"
)

// ProgressWriter is where progress bars are displayed.
var ProgressWriter io.Writer = os.Stderr

// copyBytesBar copies bytes from an io.Reader to an io.Writer while displaying a progressbar.
// It requires knowing the contentLength.
type copyBytesBar struct {
	w                             io.Writer
	bar                           *progressbar.ProgressBar
	amountWritten                 int64
	barUnit, numUnits, addedUnits int64
}

// newCopyBytesBar creates a new copyBytesBar. It requires knowing the contentLength.
func newCopyBytesBar(w io.Writer, contentLength int64) *copyBytesBar {
	bar := &copyBytesBar{w: w}
	bar.barUnit = 1
	for contentLength > bar.barUnit*1024*1024 {
		bar.barUnit *= 1024
	}
	bar.numUnits = (contentLength + bar.barUnit - 1) / bar.barUnit
	bar.bar = progressbar.NewOptions64(bar.numUnits,
		progressbar.OptionSetDescription(humanize.IBytes(uint64(contentLength))),
		progressbar.OptionSetWriter(ProgressWriter),
		progressbar.OptionSetTheme(progressbar.ThemeUnicode),
	)
	return bar
}

// Write implements io.Write, while updating the progress bar.
func (bar *copyBytesBar) Write(p []byte) (n int, err error) {
	n, err = bar.w.Write(p)
	bar.amountWritten += int64(n)
	toUnits := bar.amountWritten / bar.barUnit
	if toUnits > bar.addedUnits {
		_ = bar.bar.Add64(toUnits - bar.addedUnits)
		bar.addedUnits = toUnits
	}
	return
}

// CopyWithProgressBar is similar to io.Copy, but updates the progress bar with the amount
// of data copied.
//
// If contentLength is unknown (<= 0), it shows a spinner with the number of bytes copied instead.
func CopyWithProgressBar(dst io.Writer, src io.Reader, contentLength int64) (n int64, err error) {
	if contentLength <= 0 {
		bar := progressbar.NewOptions64(-1,
			progressbar.OptionSetDescription("downloading"),
			progressbar.OptionSetWriter(ProgressWriter),
			progressbar.OptionShowBytes(true),
		)
		n, err = io.Copy(io.MultiWriter(dst, bar), src)
		_ = bar.Close()
		return
	}
	bar := newCopyBytesBar(dst, contentLength)
	n, err = io.Copy(bar, src)
	if err == nil && bar.addedUnits < bar.numUnits {
		_ = bar.bar.Add64(bar.numUnits - bar.addedUnits)
	}
	_ = bar.bar.Close()
	_, _ = io.WriteString(ProgressWriter, "\n")
	return
}

// RequestOption modifies the HTTP request before it is sent, e.g.: to add credentials.
type RequestOption func(req *http.Request)

// WithBasicAuth adds basic authentication to the request.
func WithBasicAuth(username, password string) RequestOption {
	return func(req *http.Request) {
		req.SetBasicAuth(username, password)
	}
}

// WithHeader sets a header of the request.
func WithHeader(key, value string) RequestOption {
	return func(req *http.Request) {
		req.Header.Set(key, value)
	}
}

// Client used for downloads.
var Client = &http.Client{}

// Download file from url and save it at the given path.
// It attempts to create the directory if it doesn't yet exist.
//
// The content is first written to a temporary file in the same directory, renamed to filePath only
// when complete: an interrupted download doesn't leave a partial file at filePath.
//
// Optionally, use showProgressBar.
func Download(ctx context.Context, url, filePath string, showProgressBar bool, options ...RequestOption) (size int64, err error) {
	filePath, err = fsutil.ReplaceTildeInDir(filePath)
	if err != nil {
		return 0, err
	}
	dir := filepath.Dir(filePath)
	if err = os.MkdirAll(dir, 0777); err != nil {
		return 0, errors.Wrapf(err, "failed to create the directory for the path: %q", dir)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid url %q", url)
	}
	for _, option := range options {
		option(req)
	}
	resp, err := Client.Do(req)
	if err != nil {
		return 0, errors.Wrapf(err, "failed downloading %q", url)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return 0, errors.Errorf("failed downloading %q: %s", url, resp.Status)
	}

	file, err := os.CreateTemp(dir, filepath.Base(filePath)+".*.partial")
	if err != nil {
		return 0, errors.Wrapf(err, "failed creating temporary file for %q", filePath)
	}
	tmpPath := file.Name()
	defer func() {
		if err != nil {
			_ = file.Close()
			_ = os.Remove(tmpPath)
		}
	}()
	if showProgressBar {
		size, err = CopyWithProgressBar(file, resp.Body, resp.ContentLength)
	} else {
		size, err = io.Copy(file, resp.Body)
	}
	if err != nil {
		return 0, errors.Wrapf(err, "downloading %q to %q", url, filePath)
	}
	if err = file.Close(); err != nil {
		return 0, errors.Wrapf(err, "failed closing %q", tmpPath)
	}
	if err = os.Rename(tmpPath, filePath); err != nil {
		return 0, errors.Wrapf(err, "failed to move downloaded file to %q", filePath)
	}
	klog.V(1).Infof("downloaded %s from %q to %q", humanize.IBytes(uint64(size)), url, filePath)
	return size, nil
}

// DownloadIfMissing will check if the path exists already, and if not it will download the file
// from the given URL.
//
// If checkHash is provided, it checks that the file has the hash (sha256) or fail.
func DownloadIfMissing(ctx context.Context, url, filePath, checkHash string, showProgressBar bool, options ...RequestOption) error {
	filePath, err := fsutil.ReplaceTildeInDir(filePath)
	if err != nil {
		return err
	}
	exists, err := fsutil.FileExists(filePath)
	if err != nil {
		return err
	}
	if !exists {
		klog.Infof("Downloading %s ...", url)
		if _, err = Download(ctx, url, filePath, showProgressBar, options...); err != nil {
			return err
		}
	}
	if checkHash == "" {
		return nil
	}
	return fsutil.ValidateChecksum(filePath, checkHash)
}

// Unzip extracts zipFile into baseDir, creating it if needed, and returns the number of files extracted.
// Entries that would be written outside baseDir are rejected.
func Unzip(baseDir, zipFile string) (numFiles int, err error) {
	baseDir, err = fsutil.ReplaceTildeInDir(baseDir)
	if err != nil {
		return 0, err
	}
	reader, err := zip.OpenReader(zipFile)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to open zip file %q", zipFile)
	}
	defer func() { _ = reader.Close() }()
	if err = os.MkdirAll(baseDir, 0777); err != nil {
		return 0, errors.Wrapf(err, "failed to create %q", baseDir)
	}
	for _, entry := range reader.File {
		target := filepath.Join(baseDir, filepath.FromSlash(entry.Name))
		if target != baseDir && !strings.HasPrefix(target, filepath.Clean(baseDir)+string(filepath.Separator)) {
			return numFiles, errors.Errorf("zip file %q has entry %q outside of the target directory", zipFile, entry.Name)
		}
		if entry.FileInfo().IsDir() {
			if err = os.MkdirAll(target, 0777); err != nil {
				return numFiles, errors.Wrapf(err, "failed to create %q", target)
			}
			continue
		}
		if err = extractEntry(entry, target); err != nil {
			return numFiles, errors.WithMessagef(err, "unzipping %q", zipFile)
		}
		numFiles++
	}
	klog.V(1).Infof("extracted %d files from %q to %q", numFiles, zipFile, baseDir)
	return numFiles, nil
}

func extractEntry(entry *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0777); err != nil {
		return errors.Wrapf(err, "failed to create directory for %q", target)
	}
	r, err := entry.Open()
	if err != nil {
		return errors.Wrapf(err, "failed to open entry %q", entry.Name)
	}
	defer func() { _ = r.Close() }()
	f, err := os.Create(target)
	if err != nil {
		return errors.Wrapf(err, "failed to create %q", target)
	}
	if _, err = io.Copy(f, r); err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "failed to extract %q", entry.Name)
	}
	return errors.Wrapf(f.Close(), "failed to close %q", target)
}
