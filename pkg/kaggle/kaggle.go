// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package kaggle downloads datasets from Kaggle, using the credentials of the Kaggle command line tool.
package kaggle

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/gomlx/gestures/pkg/support/downloader"
	"github.com/gomlx/gestures/pkg/support/fsutil"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// DefaultDataset is the Indian Sign Language image dataset: one directory per gesture (digits and letters).
const DefaultDataset = "prathumarikeri/indian-sign-language-isl"

// Environment variables used for the credentials, they take precedence over the credentials file.
const (
	UsernameEnv  = "KAGGLE_USERNAME"
	KeyEnv       = "KAGGLE_KEY"
	ConfigDirEnv = "KAGGLE_CONFIG_DIR"
)

// EnvFile is a dotenv file where the credentials environment variables may also be set.
var EnvFile = ".env"

// APIURL is the base URL of the Kaggle API.
var APIURL = "https://www.kaggle.com/api/v1"

// ErrNoCredentials is returned when no Kaggle credentials are configured.
var ErrNoCredentials = errors.New("kaggle credentials not found")

// Credentials of a Kaggle account. The key is created in the account settings page, under "API".
type Credentials struct {
	Username string `json:"username"`
	Key      string `json:"key"`
}

// CredentialsFile returns the path of kaggle.json: in $KAGGLE_CONFIG_DIR if set, otherwise in ~/.kaggle.
func CredentialsFile() string {
	dir := os.Getenv(ConfigDirEnv)
	if dir == "" {
		dir = fsutil.MustReplaceTildeInDir("~/.kaggle")
	}
	return filepath.Join(dir, "kaggle.json")
}

// LoadCredentials from the environment variables, from the EnvFile or from the credentials file, in this order.
// It returns an error wrapping ErrNoCredentials if none is configured.
func LoadCredentials() (Credentials, error) {
	creds := Credentials{Username: os.Getenv(UsernameEnv), Key: os.Getenv(KeyEnv)}
	if creds.Username != "" && creds.Key != "" {
		return creds, nil
	}
	if env, err := godotenv.Read(EnvFile); err == nil {
		if env[UsernameEnv] != "" && env[KeyEnv] != "" {
			return Credentials{Username: env[UsernameEnv], Key: env[KeyEnv]}, nil
		}
	} else if !os.IsNotExist(err) {
		return creds, errors.Wrapf(err, "failed to read %q", EnvFile)
	}
	filePath := CredentialsFile()
	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return creds, errors.Wrapf(ErrNoCredentials, "set $%s and $%s, or create %q", UsernameEnv, KeyEnv, filePath)
		}
		return creds, errors.Wrapf(err, "failed to read %q", filePath)
	}
	if err = json.Unmarshal(data, &creds); err != nil {
		return creds, errors.Wrapf(err, "failed to parse %q", filePath)
	}
	if creds.Username == "" || creds.Key == "" {
		return creds, errors.Wrapf(ErrNoCredentials, "%q is missing the username or the key", filePath)
	}
	return creds, nil
}

// ParseDataset splits a dataset reference "<owner>/<name>".
func ParseDataset(ref string) (owner, name string, err error) {
	owner, name, found := strings.Cut(ref, "/")
	if !found || owner == "" || name == "" || strings.Contains(name, "/") {
		return "", "", errors.Errorf("invalid Kaggle dataset %q, it should be in the form <owner>/<name>", ref)
	}
	return owner, name, nil
}

// DatasetURL returns the download URL of the zipped dataset.
func DatasetURL(ref string) (string, error) {
	owner, name, err := ParseDataset(ref)
	if err != nil {
		return "", err
	}
	return strings.TrimSuffix(APIURL, "/") + "/datasets/download/" + owner + "/" + name, nil
}

// Download the dataset ref into dataDir and extract it there, returning the number of files extracted.
//
// The zip file is kept at dataDir/<name>.zip, and it's not downloaded again if already present. Nothing
// is extracted if dataDir already has a file or directory other than the zip file.
func Download(ctx context.Context, ref, dataDir string, creds Credentials, showProgressBar bool) (numFiles int, err error) {
	_, name, err := ParseDataset(ref)
	if err != nil {
		return 0, err
	}
	url, err := DatasetURL(ref)
	if err != nil {
		return 0, err
	}
	dataDir, err = fsutil.ReplaceTildeInDir(dataDir)
	if err != nil {
		return 0, err
	}
	zipName := name + ".zip"
	if entries, err := os.ReadDir(dataDir); err == nil {
		for _, entry := range entries {
			if entry.Name() != zipName && !strings.HasSuffix(entry.Name(), ".partial") {
				klog.Infof("%q is not empty, skipping download of %q", dataDir, ref)
				return 0, nil
			}
		}
	}
	zipPath := filepath.Join(dataDir, zipName)
	err = downloader.DownloadIfMissing(ctx, url, zipPath, "", showProgressBar,
		downloader.WithBasicAuth(creds.Username, creds.Key))
	if err != nil {
		return 0, errors.WithMessagef(err, "downloading Kaggle dataset %q (did you accept its terms on the Kaggle website?)", ref)
	}
	klog.Infof("Extracting %q ...", zipPath)
	return downloader.Unzip(dataDir, zipPath)
}
