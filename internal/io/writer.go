package io

/*
crtshadow — certificate transparency hostname extractor
Copyright (C) 2025  Pepijn van der Stap <rxtls@vanderstap.info>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU Affero General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU Affero General Public License for more details.

You should have received a copy of the GNU Affero General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

import (
	"bufio"
	"fmt"
	goio "io"
	"os"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/x-stp/crtshadow/internal/util"
)

// FileMode is the permission of newly created result files.
const FileMode os.FileMode = 0644

// maxSymlinkHops bounds symlink resolution of the output path.
const maxSymlinkHops = 40

// IOError reports a result file that could not be written.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("failed to %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// WriteLines writes names one per line, each terminated by a newline.
// No names means no bytes. Returns the number of lines written.
func WriteLines(w goio.Writer, names []string) (int, error) {
	bw := bufio.NewWriter(w)
	for i, name := range names {
		if _, err := bw.WriteString(name); err != nil {
			return i, err
		}
		if err := bw.WriteByte('\n'); err != nil {
			return i, err
		}
	}
	if err := bw.Flush(); err != nil {
		return 0, err
	}
	return len(names), nil
}

// WriteFile replaces path with names, one per line. The content goes to a temporary file in the
// same directory that is renamed over path once complete, so an interrupted run never leaves a
// truncated result. A symlinked path is written through to its target, and an existing file keeps
// its permissions. All failures are *IOError.
func WriteFile(fs afero.Fs, path string, names []string) (int, error) {
	path, err := resolveTarget(fs, path)
	if err != nil {
		return 0, &IOError{Op: "resolve", Path: path, Err: err}
	}
	mode := FileMode
	if fi, err := fs.Stat(path); err == nil {
		mode = fi.Mode().Perm()
	}

	dir := filepath.Dir(path)
	tmp, err := afero.TempFile(fs, dir, util.TempPattern(path))
	if err != nil {
		return 0, &IOError{Op: "create", Path: path, Err: err}
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = fs.Remove(tmpName)
		}
	}()

	n, err := WriteLines(tmp, names)
	if err != nil {
		return 0, &IOError{Op: "write", Path: path, Err: err}
	}
	if err := tmp.Sync(); err != nil {
		return 0, &IOError{Op: "sync", Path: path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return 0, &IOError{Op: "close", Path: path, Err: err}
	}
	// TempFile creates 0600.
	if err := fs.Chmod(tmpName, mode); err != nil {
		return 0, &IOError{Op: "chmod", Path: path, Err: err}
	}
	if err := fs.Rename(tmpName, path); err != nil {
		return 0, &IOError{Op: "rename", Path: path, Err: err}
	}
	committed = true
	return n, nil
}

// resolveTarget follows symlinks at path so the rename replaces the link target, not the link.
// Filesystems without symlink support return path unchanged.
func resolveTarget(fs afero.Fs, path string) (string, error) {
	sl, ok := fs.(afero.Symlinker)
	if !ok {
		return path, nil
	}
	for range maxSymlinkHops {
		fi, lstat, err := sl.LstatIfPossible(path)
		if err != nil || !lstat || fi.Mode()&os.ModeSymlink == 0 {
			// A missing target is created; an unreadable one surfaces from TempFile or Rename.
			return path, nil
		}
		link, err := sl.ReadlinkIfPossible(path)
		if err != nil {
			return path, err
		}
		if !filepath.IsAbs(link) {
			link = filepath.Join(filepath.Dir(path), link)
		}
		path = link
	}
	return path, fmt.Errorf("too many levels of symbolic links")
}
