package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/wc-attach-images/wc-attach-images/internal/attach"
	"github.com/wc-attach-images/wc-attach-images/internal/hostlog"
	"github.com/wc-attach-images/wc-attach-images/internal/platform/cache"
)

// Runner runs the product loop in-process.
type Runner interface {
	Run(ctx context.Context, opts attach.RunOptions) (attach.Summary, error)
}

// Locker guards in-process runs against a concurrent worker run.
type Locker interface {
	Acquire(ctx context.Context) (func(context.Context) error, error)
}

// RunOptions defines flags for the run command.
type RunOptions struct {
	Page       int
	SinglePage bool
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// RunCommand runs the attach loop in the foreground, holding the shared run lock.
// Exit code 3 means another run holds the lock.
func RunCommand(ctx context.Context, runner Runner, lock Locker, opts RunOptions) int {
	stdout, stderr := writers(opts.Stdout, opts.Stderr)
	if runner == nil {
		_, _ = fmt.Fprintln(stderr, "run: runner not configured")
		return 1
	}
	if opts.Page < 1 {
		_, _ = fmt.Fprintln(stderr, "run: --page must be at least 1")
		return 1
	}
	if lock != nil {
		release, err := lock.Acquire(ctx)
		if errors.Is(err, cache.ErrLocked) {
			_, _ = fmt.Fprintln(stderr, "run: another attach run is in progress")
			return 3
		}
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "run: %v\n", err)
			return 1
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				_, _ = fmt.Fprintf(stderr, "run: release lock: %v\n", err)
			}
		}()
	}

	summary, err := runner.Run(ctx, attach.RunOptions{StartPage: opts.Page, SinglePage: opts.SinglePage})
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "run: %v\n", err)
		return 1
	}
	if opts.JSONOutput {
		if err := json.NewEncoder(stdout).Encode(summary); err != nil {
			_, _ = fmt.Fprintf(stderr, "run: encode json: %v\n", err)
			return 1
		}
		return 0
	}
	rows := [][]string{
		{"Run", summary.RunID},
		{"Pages", strconv.Itoa(summary.Pages)},
		{"Processed", strconv.Itoa(summary.Processed)},
		{"Attached", strconv.Itoa(summary.Attached)},
		{"Children", strconv.Itoa(summary.Children)},
		{"No SKU", strconv.Itoa(summary.NoSKU)},
		{"No match", strconv.Itoa(summary.NoMatch)},
		{"Ambiguous", strconv.Itoa(summary.Ambiguous)},
	}
	if summary.NextPage > 0 {
		rows = append(rows, []string{"Next page", strconv.Itoa(summary.NextPage)})
	}
	_, _ = fmt.Fprintln(stdout, renderTable([]string{"Field", "Value"}, rows, []columnAlignment{alignLeft, alignRight}))
	return 0
}

// TermsOptions defines flags for the terms command.
type TermsOptions struct {
	SKUs       []string
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

type termPreview struct {
	SKU        string `json:"sku"`
	Cleaned    string `json:"cleaned"`
	SearchTerm string `json:"search_term"`
	Searchable bool   `json:"searchable"`
}

// TermsCommand previews the media search keyword derived from each SKU.
func TermsCommand(opts TermsOptions) int {
	stdout, stderr := writers(opts.Stdout, opts.Stderr)
	if len(opts.SKUs) == 0 {
		_, _ = fmt.Fprintln(stderr, "terms: at least one SKU is required")
		return 1
	}
	previews := make([]termPreview, 0, len(opts.SKUs))
	for _, sku := range opts.SKUs {
		term, ok := attach.SearchTerm(sku)
		previews = append(previews, termPreview{
			SKU:        sku,
			Cleaned:    attach.CleanSKU(sku),
			SearchTerm: term,
			Searchable: ok && strings.TrimSpace(term) != "",
		})
	}
	if opts.JSONOutput {
		if err := json.NewEncoder(stdout).Encode(previews); err != nil {
			_, _ = fmt.Fprintf(stderr, "terms: encode json: %v\n", err)
			return 1
		}
		return 0
	}
	rows := make([][]string, 0, len(previews))
	for _, p := range previews {
		term := p.SearchTerm
		if !p.Searchable {
			term = "(none)"
		}
		rows = append(rows, []string{p.SKU, p.Cleaned, term})
	}
	_, _ = fmt.Fprintln(stdout, renderTable([]string{"SKU", "Cleaned", "Search term"}, rows, nil))
	return 0
}

// LogReader lists recent run log lines.
type LogReader interface {
	Channel() string
	Recent(ctx context.Context, limit int) ([]hostlog.Entry, error)
}

// LogOptions defines flags for the log command.
type LogOptions struct {
	Limit      int
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// LogCommand prints the most recent run log lines, oldest first. JSON output keeps the
// store's newest-first order.
func LogCommand(ctx context.Context, reader LogReader, opts LogOptions) int {
	stdout, stderr := writers(opts.Stdout, opts.Stderr)
	if reader == nil {
		_, _ = fmt.Fprintln(stderr, "log: reader not configured")
		return 1
	}
	if opts.Limit <= 0 {
		opts.Limit = 100
	}
	entries, err := reader.Recent(ctx, opts.Limit)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "log: %v\n", err)
		return 1
	}
	if opts.JSONOutput {
		if err := json.NewEncoder(stdout).Encode(entries); err != nil {
			_, _ = fmt.Fprintf(stderr, "log: encode json: %v\n", err)
			return 1
		}
		return 0
	}
	if len(entries) == 0 {
		_, _ = fmt.Fprintf(stdout, "No entries in %s\n", reader.Channel())
		return 0
	}
	entries = slices.Clone(entries)
	slices.Reverse(entries)
	for _, e := range entries {
		_, _ = fmt.Fprintf(stdout, "%s %s\n", e.CreatedAt.UTC().Format(time.RFC3339), e.Message)
	}
	return 0
}

// Pruner deletes log lines older than a cutoff.
type Pruner interface {
	Prune(ctx context.Context, channel string, before time.Time) (int64, error)
}

// PruneOptions defines flags for the log prune command.
type PruneOptions struct {
	Channel   string
	OlderThan time.Duration
	Now       func() time.Time
	Stdout    io.Writer
	Stderr    io.Writer
}

// PruneCommand removes log lines older than OlderThan from the channel.
func PruneCommand(ctx context.Context, pruner Pruner, opts PruneOptions) int {
	stdout, stderr := writers(opts.Stdout, opts.Stderr)
	if pruner == nil {
		_, _ = fmt.Fprintln(stderr, "log prune: store not configured")
		return 1
	}
	if opts.OlderThan <= 0 {
		_, _ = fmt.Fprintln(stderr, "log prune: --older-than must be positive")
		return 1
	}
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	before := now().Add(-opts.OlderThan)
	removed, err := pruner.Prune(ctx, opts.Channel, before)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "log prune: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintf(stdout, "Removed %d entries from %s older than %s\n", removed, opts.Channel, before.UTC().Format(time.RFC3339))
	return 0
}
