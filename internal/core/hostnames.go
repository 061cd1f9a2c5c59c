package core

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
	"fmt"
	"strings"

	"github.com/zeebo/xxh3"

	"github.com/x-stp/crtshadow/internal/certlib"
)

// Extract collects every name of every record into a normalized set.
// progress may be nil.
func Extract(records []certlib.CertificateRecord, progress *Progress) certlib.HostnameSet {
	names := certlib.NewHostnameSet()
	for _, rec := range records {
		for _, raw := range rec.RawNames() {
			names.Add(raw)
		}
		progress.Increment()
	}
	progress.Finish()
	return names
}

// FilterSameDomain keeps domain itself and names ending in "."+domain.
// "notexample.com" does not match "example.com".
func FilterSameDomain(names certlib.HostnameSet, domain string) certlib.HostnameSet {
	suffix := "." + domain
	out := make(certlib.HostnameSet, len(names))
	for name := range names {
		if name == domain || strings.HasSuffix(name, suffix) {
			out[name] = struct{}{}
		}
	}
	return out
}

// TrimSuffix replaces names under domain with their sub-host part ("api.example.com" -> "api").
// The bare domain and anything else that trims to nothing (".example.com" from a "*..example.com"
// SAN) is dropped; unrelated names pass through.
func TrimSuffix(names certlib.HostnameSet, domain string) certlib.HostnameSet {
	suffix := "." + domain
	out := make(certlib.HostnameSet, len(names))
	for name := range names {
		if name == domain {
			continue
		}
		if sub := strings.TrimSuffix(name, suffix); sub != "" {
			out[sub] = struct{}{}
		}
	}
	return out
}

// Digest is a NON-CRYPTOGRAPHIC fingerprint (xxh3) of a sorted result, one name per line.
// Two runs with equal digests produced identical output.
func Digest(sorted []string) string {
	h := xxh3.New()
	for _, name := range sorted {
		_, _ = h.WriteString(name)
		_, _ = h.WriteString("\n")
	}
	return fmt.Sprintf("%016x", h.Sum64())
}
