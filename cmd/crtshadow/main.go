/*
Package main is the entry point for the crtshadow command-line application.

crtshadow asks a certificate transparency search service (crt.sh by default) for every
certificate issued under a domain and prints the hostnames those certificates cover:
  - Common names and subject alternative names are collected from every record.
  - Wildcard labels are stripped, names are lowercased and deduplicated.
  - --same keeps only the domain and its subdomains; --trim prints only the sub-host part.
  - Results are sorted and written to stdout or, with --output, atomically to a file.

The request is retried with exponential backoff on 429 and 5xx gateway errors. crt.sh is
known to refuse HTTPS under load, so a final 503 over HTTPS re-runs the request sequence
once over plain HTTP.

Interrupting the program (SIGINT, SIGTERM) cancels the request immediately; an output file
is only ever replaced by a complete result.
*/
package main

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
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/x-stp/crtshadow/internal/certlib"
	"github.com/x-stp/crtshadow/internal/client"
	"github.com/x-stp/crtshadow/internal/core"
	crtio "github.com/x-stp/crtshadow/internal/io"
	"github.com/x-stp/crtshadow/internal/metrics"
)

// options holds every flag of the root command.
type options struct {
	same        bool
	trim        bool
	output      string
	verbose     bool
	plainHTTP   bool
	timeout     time.Duration
	retries     int
	host        string
	rate        float64
	metricsFile string

	// fs is where --output is written.
	fs afero.Fs
}

// newRootCmd builds the command tree; --output files are written to fs.
func newRootCmd(fs afero.Fs) *cobra.Command {
	opts := &options{fs: fs}

	cmd := &cobra.Command{
		Use:   "crtshadow <domain>",
		Short: "crtshadow - list hostnames seen in certificate transparency logs for a domain",
		Long: `Queries crt.sh for every certificate matching %.<domain> and prints the hostnames found in
their common name and subject alternative name fields, sorted and deduplicated.`,
		Example: `  # All names for example.com
  crtshadow example.com

  # Only example.com and its subdomains
  crtshadow example.com --same

  # Host parts only (www, api-test.ci, ...) written to a file
  crtshadow example.com --same --trim -o hosts.txt`,
		Args:          validateDomainArg,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Arguments are valid past this point; runtime failures shouldn't print usage.
			cmd.SilenceUsage = true
			return run(cmd.Context(), opts, args[0], cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	flags := cmd.Flags()
	flags.BoolVarP(&opts.same, "same", "s", false, "Only keep <domain> and its subdomains")
	flags.BoolVarP(&opts.trim, "trim", "t", false, "Strip the base \".<domain>\" suffix (output host part only)")
	flags.StringVarP(&opts.output, "output", "o", "", "Write to FILE instead of stdout")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "Print progress and diagnostics to stderr")
	flags.BoolVar(&opts.plainHTTP, "http", false, "Query over plain HTTP from the start (disables the HTTPS fallback)")
	flags.DurationVar(&opts.timeout, "timeout", client.RequestTimeout, "Timeout for a single request attempt")
	flags.IntVar(&opts.retries, "retries", certlib.DefaultRetryPolicy().MaxAttempts, "Total attempts per scheme for transient errors")
	flags.StringVar(&opts.host, "host", certlib.DefaultHost, "Certificate transparency search host")
	flags.Float64Var(&opts.rate, "rate", 1, "Maximum requests per second sent to the search host (0 for unlimited)")
	flags.StringVar(&opts.metricsFile, "metrics-file", "", "Write Prometheus text-format metrics to FILE on exit")
	cmd.Flags().SortFlags = false

	return cmd
}

// validateDomainArg requires exactly one non-blank domain before any network activity.
func validateDomainArg(cmd *cobra.Command, args []string) error {
	if err := cobra.ExactArgs(1)(cmd, args); err != nil {
		return err
	}
	if certlib.NormalizeDomain(args[0]) == "" {
		return fmt.Errorf("invalid domain %q: %w", args[0], core.ErrEmptyDomain)
	}
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd(afero.NewOsFs()).ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the handler for the root command.
func run(ctx context.Context, opts *options, domain string, stdout, stderr io.Writer) error {
	logger := log.New(io.Discard, "", 0)
	var progress io.Writer
	if opts.verbose {
		logger = log.New(stderr, "", log.LstdFlags)
		progress = stderr
	}

	if opts.metricsFile != "" {
		metrics.EnableMetrics()
		defer func() {
			if err := metrics.WriteTextfile(opts.metricsFile); err != nil {
				fmt.Fprintf(stderr, "Warning: %v\n", err)
			}
		}()
	}

	client.InitHTTPClient(&client.Config{RequestTimeout: opts.timeout})

	policy := certlib.DefaultRetryPolicy()
	policy.MaxAttempts = opts.retries
	var limiter *rate.Limiter
	if opts.rate > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.rate), 1)
	}

	fetcher := certlib.NewFetcher(&certlib.FetcherConfig{
		Client:      client.GetHTTPClient(),
		Host:        opts.host,
		PreferHTTPS: !opts.plainHTTP,
		Policy:      &policy,
		Limiter:     limiter,
		Logger:      logger,
	})

	res, err := core.Run(ctx, fetcher, core.Options{
		Domain:     domain,
		SameDomain: opts.same,
		Trim:       opts.trim,
		Logger:     logger,
		Progress:   progress,
	})
	if err != nil {
		return err
	}

	if opts.output != "" {
		n, err := crtio.WriteFile(opts.fs, opts.output, res.Names)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "Wrote %d lines to %s\n", n, opts.output)
		return nil
	}

	if _, err := crtio.WriteLines(stdout, res.Names); err != nil {
		return fmt.Errorf("error writing results: %w", err)
	}
	fmt.Fprintf(stderr, "Found %d hostnames\n", len(res.Names))
	return nil
}
