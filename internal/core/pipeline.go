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
	"context"
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/x-stp/crtshadow/internal/certlib"
	"github.com/x-stp/crtshadow/internal/metrics"
)

// ErrEmptyDomain is returned by Run when the domain is blank after normalization.
var ErrEmptyDomain = errors.New("domain must not be empty")

// RecordFetcher is satisfied by *certlib.Fetcher.
type RecordFetcher interface {
	Fetch(ctx context.Context, domain string) ([]certlib.CertificateRecord, error)
}

// Options selects the optional pipeline stages.
type Options struct {
	Domain string
	// SameDomain keeps only Domain and its subdomains.
	SameDomain bool
	// Trim strips the ".Domain" suffix from matching names.
	Trim bool
	// Logger receives progress narration. Nil discards it.
	Logger *log.Logger
	// Progress receives the per-record counter. Nil disables it.
	Progress io.Writer
}

// Result is the outcome of one run.
type Result struct {
	Domain  string
	Records int
	// Found is the number of distinct names before filtering and trimming.
	Found int
	// Names is the final output in ascending order.
	Names  []string
	Digest string
}

// Run executes fetch, extract, filter, trim and sort for a single domain.
// Nothing is written anywhere but the logger; output is the caller's job.
func Run(ctx context.Context, fetcher RecordFetcher, opts Options) (*Result, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	domain := certlib.NormalizeDomain(opts.Domain)
	if domain == "" {
		return nil, ErrEmptyDomain
	}

	records, err := fetcher.Fetch(ctx, domain)
	if err != nil {
		return nil, fmt.Errorf("error fetching certificates for %s: %w", domain, err)
	}
	logger.Printf("Received %d cert entries", len(records))

	names := Extract(records, NewProgress(opts.Progress, ProgressLabel, len(records)))
	found := names.Len()
	logger.Printf("Extracted %d distinct hostnames", found)

	if opts.SameDomain {
		names = FilterSameDomain(names, domain)
		logger.Printf("Kept %d hostnames under %s", names.Len(), domain)
	}
	if opts.Trim {
		names = TrimSuffix(names, domain)
	}

	sorted := names.Sorted()
	res := &Result{
		Domain:  domain,
		Records: len(records),
		Found:   found,
		Names:   sorted,
		Digest:  Digest(sorted),
	}
	metrics.GetMetrics().ObserveRun(res.Records, res.Found, len(res.Names))
	logger.Printf("Result digest %s", res.Digest)
	return res, nil
}
