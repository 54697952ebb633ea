package attach

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// DefaultPause is the rest between two full pages.
const DefaultPause = 5 * time.Second

// Rule separates runs in the log.
const Rule = "======================================================================================================"

const timestampLayout = "2006-01-02 15:04:05"

// MemoryStats is the process memory snapshot printed at the end of a run.
type MemoryStats struct {
	Usage uint64
	// Limit is the soft memory limit; math.MaxInt64 means no limit is set.
	Limit int64
}

// ProcessorConfig wires a Processor.
type ProcessorConfig struct {
	Catalog  Catalog
	Media    MediaLibrary
	Log      RunLog
	Recorder Recorder
	Logger   *slog.Logger
	Pause    time.Duration
}

// Processor attaches media to products page by page.
type Processor struct {
	catalog  Catalog
	media    MediaLibrary
	runLog   RunLog
	recorder Recorder
	logger   *slog.Logger
	pause    time.Duration

	clock   func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
	memory  func() MemoryStats
	newID   func() string
	printer *message.Printer
}

// NewProcessor constructs a Processor. Catalog and Media are required.
func NewProcessor(cfg ProcessorConfig) (*Processor, error) {
	if cfg.Catalog == nil {
		return nil, errors.New("attach: catalog not configured")
	}
	if cfg.Media == nil {
		return nil, errors.New("attach: media library not configured")
	}
	pause := cfg.Pause
	if pause < 0 {
		pause = 0
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		catalog:  cfg.Catalog,
		media:    cfg.Media,
		runLog:   cfg.Log,
		recorder: cfg.Recorder,
		logger:   logger,
		pause:    pause,
		clock:    time.Now,
		sleep:    sleepWithContext,
		memory:   readMemoryStats,
		newID:    func() string { return uuid.NewString() },
		printer:  message.NewPrinter(language.English),
	}, nil
}

// Pause returns the configured rest between full pages.
func (p *Processor) Pause() time.Duration {
	return p.pause
}

// Run processes products starting at opts.StartPage until a page processes fewer than
// PageSize products. Products without a SKU do not count towards a full page. With
// SinglePage set only one page is handled and Summary.NextPage tells the caller where to
// continue. Host failures abort the run and are returned unchanged in meaning.
func (p *Processor) Run(ctx context.Context, opts RunOptions) (Summary, error) {
	page := opts.StartPage
	if page < 1 {
		page = 1
	}
	summary := Summary{RunID: p.newID()}
	logger := p.logger.With(slog.String("run_id", summary.RunID))
	var peak uint64

	p.log(ctx, Rule)
	p.log(ctx, "Starting process at: "+p.clock().Format(timestampLayout))

	for {
		p.log(ctx, "Querying products...")
		products, err := p.catalog.ListProducts(ctx, page, PageSize)
		if err != nil {
			return summary, fmt.Errorf("attach: list products page %d: %w", page, err)
		}
		summary.Pages++
		logger.Debug("page fetched", slog.Int("page", page), slog.Int("products", len(products)))

		if len(products) > 0 {
			p.log(ctx, "Products found, starting product loop...")
		}
		before := summary.Processed
		for _, product := range products {
			if err := p.processProduct(ctx, product, &summary); err != nil {
				return summary, err
			}
		}
		peak = max(peak, p.memory().Usage)

		if processed := summary.Processed - before; processed < PageSize {
			logger.Debug("page not full, stopping", slog.Int("page", page), slog.Int("processed", processed))
			break
		}
		if opts.SinglePage {
			summary.NextPage = page + 1
			break
		}

		p.log(ctx, "RESTING...")
		if err := p.sleep(ctx, p.pause); err != nil {
			return summary, err
		}
		p.log(ctx, "REST COMPLETE, MOVING TO NEXT BATCH...")
		page++
	}

	p.logFooter(ctx, peak)
	logger.Info("attach run finished",
		slog.Int("pages", summary.Pages),
		slog.Int("processed", summary.Processed),
		slog.Int("attached", summary.Attached),
		slog.Int("no_match", summary.NoMatch),
		slog.Int("next_page", summary.NextPage),
	)
	return summary, nil
}

func (p *Processor) processProduct(ctx context.Context, product Product, summary *Summary) error {
	id := strconv.FormatInt(product.ID, 10)
	p.log(ctx, "Retrieving product object for product: "+id)

	term, ok := SearchTerm(product.SKU)
	if !ok {
		p.log(ctx, "Product has no SKU, skipping product: "+id)
		summary.NoSKU++
		p.record(OutcomeNoSKU, 1)
		return nil
	}
	summary.Processed++

	p.log(ctx, "Retrieving product SKU for product: "+CleanSKU(product.SKU))
	p.log(ctx, "Searching media library for following keyword: "+term)

	var (
		match MediaMatch
		found bool
	)
	if !isBlank(term) {
		var err error
		match, found, err = p.media.FindUnattached(ctx, term)
		if err != nil {
			return fmt.Errorf("attach: search media for product %d: %w", product.ID, err)
		}
	}
	if !found {
		p.log(ctx, fmt.Sprintf("No media ID found for product: %s - [ID %d]", product.Title, product.ID))
		summary.NoMatch++
		p.record(OutcomeNoMatch, 1)
		return nil
	}

	mediaID := strconv.FormatInt(match.ID, 10)
	p.log(ctx, "Media ID found: "+mediaID)
	if match.Candidates > 1 {
		p.log(ctx, fmt.Sprintf("Keyword %q matched %d media items, using the first: %d", term, match.Candidates, match.ID))
		summary.Ambiguous++
		p.record(OutcomeAmbiguous, 1)
	}

	p.log(ctx, "Attaching image to product: "+id)
	if err := p.catalog.SetProductImage(ctx, product, match.ID); err != nil {
		return fmt.Errorf("attach: save product %d: %w", product.ID, err)
	}
	p.log(ctx, "Image attached to product: "+id)
	summary.Attached++
	p.record(OutcomeAttached, 1)

	if !product.HasChildren() {
		return nil
	}
	label := "variation"
	if product.Type == ProductTypeGrouped {
		label = "child product"
	}
	p.log(ctx, fmt.Sprintf("Product has %ss, starting %s loop...", label, label))
	for _, childID := range product.Children {
		p.log(ctx, fmt.Sprintf("Attaching image to %s: %d", label, childID))
		if err := p.catalog.SetChildImage(ctx, product, childID, match.ID); err != nil {
			return fmt.Errorf("attach: save %s %d of product %d: %w", label, childID, product.ID, err)
		}
		summary.Children++
	}
	p.record(OutcomeChild, len(product.Children))
	return nil
}

// logFooter prints the closing lines. peak is the highest heap usage sampled after each page.
func (p *Processor) logFooter(ctx context.Context, peak uint64) {
	stats := p.memory()
	p.log(ctx, "Ending process at: "+p.clock().Format(timestampLayout))
	p.log(ctx, p.printer.Sprintf("Memory usage: %d", stats.Usage))
	p.log(ctx, p.printer.Sprintf("Memory peak usage: %d", max(peak, stats.Usage)))
	if stats.Limit <= 0 || stats.Limit == math.MaxInt64 {
		p.log(ctx, "Memory limit: unlimited")
	} else {
		p.log(ctx, p.printer.Sprintf("Memory limit: %d", stats.Limit))
	}
	p.log(ctx, Rule)
}

func (p *Processor) log(ctx context.Context, msg string) {
	if p.runLog == nil {
		return
	}
	p.runLog.Log(ctx, msg)
}

func (p *Processor) record(outcome string, count int) {
	if p.recorder == nil || count <= 0 {
		return
	}
	p.recorder.RecordOutcome(outcome, count)
}

func isBlank(s string) bool {
	for _, r := range s {
		if r != ' ' && r != '\t' && r != '\n' && r != '\r' {
			return false
		}
	}
	return true
}

func readMemoryStats() MemoryStats {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return MemoryStats{
		Usage: ms.HeapAlloc,
		Limit: debug.SetMemoryLimit(-1),
	}
}

func sleepWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
