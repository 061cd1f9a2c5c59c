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
	"errors"
	"fmt"
)

// FetchErrorKind classifies a failed fetch.
type FetchErrorKind int

const (
	// KindTransport covers dial, TLS, timeout and cancellation failures.
	KindTransport FetchErrorKind = iota
	// KindStatus is a terminal non-2xx response.
	KindStatus
	// KindParse is a 2xx response whose body is not a JSON array of records.
	KindParse
)

func (k FetchErrorKind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindStatus:
		return "status"
	case KindParse:
		return "parse"
	}
	return fmt.Sprintf("FetchErrorKind(%d)", int(k))
}

// FetchError is returned by Fetcher.Fetch for every failure.
type FetchError struct {
	Kind       FetchErrorKind
	URL        string
	StatusCode int // set for KindStatus
	Attempts   int
	Err        error
	retryable  bool
}

func (e *FetchError) Error() string {
	var msg string
	switch e.Kind {
	case KindStatus:
		msg = fmt.Sprintf("HTTP error %d fetching %s", e.StatusCode, e.URL)
	case KindParse:
		msg = fmt.Sprintf("error parsing JSON from %s", e.URL)
	default:
		msg = fmt.Sprintf("error fetching %s", e.URL)
	}
	if e.Attempts > 1 {
		msg = fmt.Sprintf("%s after %d attempts", msg, e.Attempts)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *FetchError) Unwrap() error { return e.Err }

// Retryable reports whether the failure belongs to the class the retry policy repeats.
func (e *FetchError) Retryable() bool { return e.retryable }

// IsRetryable reports whether err is a retryable *FetchError.
// Nil and foreign errors are not retryable.
func IsRetryable(err error) bool {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Retryable()
	}
	return false
}

// StatusCode extracts the terminal HTTP status from err, or 0.
func StatusCode(err error) int {
	var fe *FetchError
	if errors.As(err, &fe) && fe.Kind == KindStatus {
		return fe.StatusCode
	}
	return 0
}
