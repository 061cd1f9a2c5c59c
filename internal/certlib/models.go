package certlib

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
	"sort"
	"strings"
)

// WildcardPrefix marks a wildcard certificate name such as "*.example.com".
const WildcardPrefix = "*."

// CertificateRecord is one row of the crt.sh JSON output. Only the two name fields are consumed;
// absent or null fields decode to the empty string.
type CertificateRecord struct {
	CommonName string `json:"common_name"`
	// NameValue holds every SAN of the certificate, newline separated on crt.sh.
	NameValue string `json:"name_value"`
}

// RawNames returns the candidate hostnames of the record: the trimmed common name,
// if any, followed by every whitespace-separated token of name_value.
func (r CertificateRecord) RawNames() []string {
	fields := strings.Fields(r.NameValue)
	names := make([]string, 0, len(fields)+1)
	if cn := strings.TrimSpace(r.CommonName); cn != "" {
		names = append(names, cn)
	}
	return append(names, fields...)
}

// NormalizeName turns a raw certificate name into its set form: surrounding whitespace
// trimmed, one leading wildcard label removed, lowercased. Returns "" for names that
// are empty after that. Only one "*." is stripped: "*.*.foo.com" becomes "*.foo.com".
func NormalizeName(raw string) string {
	name := strings.TrimSpace(raw)
	name = strings.TrimPrefix(name, WildcardPrefix)
	return strings.ToLower(name)
}

// NormalizeDomain prepares the user-supplied base domain for querying and suffix matching.
func NormalizeDomain(domain string) string {
	return strings.ToLower(strings.TrimSpace(domain))
}

// HostnameSet is a set of normalized hostnames.
// No member is empty or contains uppercase letters. Members do not start with "*."
// unless the raw name carried a doubled wildcard, see NormalizeName.
type HostnameSet map[string]struct{}

// NewHostnameSet returns a set holding the normalized form of names.
func NewHostnameSet(names ...string) HostnameSet {
	s := make(HostnameSet, len(names))
	for _, n := range names {
		s.Add(n)
	}
	return s
}

// Add normalizes raw and inserts it. It reports whether the set grew.
func (s HostnameSet) Add(raw string) bool {
	name := NormalizeName(raw)
	if name == "" {
		return false
	}
	if _, ok := s[name]; ok {
		return false
	}
	s[name] = struct{}{}
	return true
}

// Contains reports whether name, after normalization, is a member.
func (s HostnameSet) Contains(name string) bool {
	_, ok := s[NormalizeName(name)]
	return ok
}

// Len returns the number of members.
func (s HostnameSet) Len() int { return len(s) }

// Sorted returns the members in ascending byte order.
func (s HostnameSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for name := range s {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
