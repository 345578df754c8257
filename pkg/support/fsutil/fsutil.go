// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package fsutil contains utilities for working with the file system.
package fsutil

import (
	"os"
	"os/user"
	"path"
	"strings"

	"github.com/pkg/errors"
)

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

// ReplaceTilde replaces a leading "~" or "~user" in filePath by the user's home directory.
// Returns filePath unchanged if it doesn't start with "~".
//
// It returns an error if filePath has an unknown user (e.g: `~unknown/...`).
func ReplaceTilde(filePath string) (string, error) {
	if !strings.HasPrefix(filePath, "~") {
		return filePath, nil
	}
	userName, rest, _ := strings.Cut(filePath[1:], "/")
	var usr *user.User
	var err error
	if userName == "" {
		usr, err = user.Current()
	} else {
		usr, err = user.Lookup(userName)
	}
	if err != nil {
		return "", errors.Wrapf(err, "failed to lookup home directory for user in path %q", filePath)
	}
	return path.Join(usr.HomeDir, rest), nil
}

// OpenInput opens the file at filePath for reading, after replacing a leading "~" (see ReplaceTilde).
// It returns a clear error if the file doesn't exist.
func OpenInput(filePath string) (*os.File, error) {
	expanded, err := ReplaceTilde(filePath)
	if err != nil {
		return nil, err
	}
	exists, err := FileExists(expanded)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, errors.Errorf("file %q not found", expanded)
	}
	f, err := os.Open(expanded)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %q", expanded)
	}
	return f, nil
}
