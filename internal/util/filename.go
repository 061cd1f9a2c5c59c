package util

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
	"path/filepath"
	"strings"
)

// maxNameLength keeps temporary names well under common filesystem limits.
const maxNameLength = 100

// SanitizeFilename creates a filesystem-safe filename from an arbitrary string.
// Replaces common problematic characters with underscores and limits length.
func SanitizeFilename(input string) string {
	replaced := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, input)
	if len(replaced) > maxNameLength {
		return replaced[:maxNameLength]
	}
	return replaced
}

// TempPattern returns a hidden temp-file pattern for target, for use with
// os.CreateTemp or afero.TempFile. The random part replaces the trailing "*".
func TempPattern(target string) string {
	return "." + SanitizeFilename(filepath.Base(target)) + ".tmp-*"
}
