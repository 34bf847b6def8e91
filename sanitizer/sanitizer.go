// Copyright 2024 Google LLC.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package sanitizer performs purely lexical processing of tar member names.
//
// Unlike a general-purpose path cleaner, ResolveRelative never cancels a
// ".." segment against a preceding component: a legitimate archive has no
// reason to contain one, so any occurrence is treated as an attack and
// rejected outright rather than silently resolved.
package sanitizer

import (
	"errors"
	"strings"

	"golang.org/x/text/unicode/norm"
)

const nixPathSeparator = "/"

var nixReplacer = strings.NewReplacer(`\`, `/`)

// ErrAbsolutePath is returned when a member name is rooted, either with a
// leading "/" or a Windows drive letter such as "C:/".
var ErrAbsolutePath = errors.New("sanitizer: absolute path rejected")

// ErrPathTraversal is returned when a member name contains a ".." segment.
var ErrPathTraversal = errors.New("sanitizer: path traversal segment rejected")

// ErrEmptyPath is returned when, after dropping "" and "." segments, nothing
// remains of the member name.
var ErrEmptyPath = errors.New("sanitizer: resolved path is empty")

// ErrEmbeddedNUL is returned when the resolved relative path contains a NUL
// byte.
var ErrEmbeddedNUL = errors.New("sanitizer: embedded NUL byte")

// ResolveRelative normalizes a tar member name into a slash-separated,
// relative path with no ".", "" or ".." segments.
//
// Processing order: Unicode NFC normalization, backslash-to-slash folding,
// absolute-path rejection (Unix-rooted and Windows drive-letter forms),
// then segment-by-segment filtering. Any ".." segment aborts the whole
// operation; it is never canceled against an earlier segment the way
// path/filepath.Clean would.
func ResolveRelative(in string) (string, error) {
	normalized := norm.NFC.String(in)
	normalized = nixReplacer.Replace(normalized)

	if isAbsolute(normalized) {
		return "", ErrAbsolutePath
	}

	parts := strings.Split(normalized, nixPathSeparator)
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		switch p {
		case "", ".":
			continue
		case "..":
			return "", ErrPathTraversal
		default:
			kept = append(kept, p)
		}
	}

	if len(kept) == 0 {
		return "", ErrEmptyPath
	}

	joined := strings.Join(kept, nixPathSeparator)
	if strings.ContainsRune(joined, 0) {
		return "", ErrEmbeddedNUL
	}

	return joined, nil
}

func isAbsolute(in string) bool {
	if strings.HasPrefix(in, nixPathSeparator) {
		return true
	}
	// Windows drive-letter absolute path, e.g. "C:/Windows".
	if len(in) >= 3 && isASCIILetter(in[0]) && in[1] == ':' && in[2] == '/' {
		return true
	}
	return false
}

func isASCIILetter(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}
