package attach

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCatalog struct {
	pages       map[int][]Product
	listed      []int
	productImgs map[int64]int64
	childImgs   map[int64]int64
	saveErr     error
}

func newFakeCatalog(pages map[int][]Product) *fakeCatalog {
	return &fakeCatalog{pages: pages, productImgs: map[int64]int64{}, childImgs: map[int64]int64{}}
}

func (c *fakeCatalog) ListProducts(ctx context.Context, page, perPage int) ([]Product, error) {
	c.listed = append(c.listed, page)
	return c.pages[page], nil
}

func (c *fakeCatalog) SetProductImage(ctx context.Context, product Product, mediaID int64) error {
	if c.saveErr != nil {
		return c.saveErr
	}
	c.productImgs[product.ID] = mediaID
	return nil
}

func (c *fakeCatalog) SetChildImage(ctx context.Context, parent Product, childID, mediaID int64) error {
	c.childImgs[childID] = mediaID
	return nil
}

type fakeMedia struct {
	matches  map[string]MediaMatch
	searched []string
}

func (m *fakeMedia) FindUnattached(ctx context.Context, keyword string) (MediaMatch, bool, error) {
	m.searched = append(m.searched, keyword)
	match, ok := m.matches[keyword]
	return match, ok, nil
}

type memoryLog struct {
	lines []string
}

func (l *memoryLog) Log(ctx context.Context, message string) {
	l.lines = append(l.lines, message)
}

func (l *memoryLog) contains(sub string) bool {
	for _, line := range l.lines {
		if strings.Contains(line, sub) {
			return true
		}
	}
	return false
}

type countingRecorder map[string]int

func (r countingRecorder) RecordOutcome(outcome string, count int) {
	r[outcome] += count
}

type recordingSleeper struct {
	calls []time.Duration
}

func (s *recordingSleeper) sleep(ctx context.Context, d time.Duration) error {
	s.calls = append(s.calls, d)
	return nil
}

func newTestProcessor(t *testing.T, catalog Catalog, media MediaLibrary, log *memoryLog) (*Processor, *recordingSleeper) {
	t.Helper()
	p, err := NewProcessor(ProcessorConfig{Catalog: catalog, Media: media, Log: log, Pause: DefaultPause})
	require.NoError(t, err)
	sleeper := &recordingSleeper{}
	p.sleep = sleeper.sleep
	p.clock = func() time.Time { return time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC) }
	p.memory = func() MemoryStats { return MemoryStats{Usage: 1234567, Limit: 536870912} }
	p.newID = func() string { return "run-1" }
	return p, sleeper
}

func fullPage(startID int64) []Product {
	products := make([]Product, 0, PageSize)
	for i := int64(0); i < PageSize; i++ {
		id := startID + i
		products = append(products, Product{ID: id, Title: fmt.Sprintf("Item %d", id), SKU: fmt.Sprintf("SKU%d", id)})
	}
	return products
}

func TestRunAttachesImageToProductAndVariations(t *testing.T) {
	catalog := newFakeCatalog(map[int][]Product{
		1: {{ID: 10, Title: "Widget", SKU: "WDG-100-2024", Type: ProductTypeVariable, Children: []int64{11, 12}}},
	})
	media := &fakeMedia{matches: map[string]MediaMatch{"WDG 100": {ID: 77, Candidates: 1}}}
	log := &memoryLog{}
	p, sleeper := newTestProcessor(t, catalog, media, log)

	summary, err := p.Run(context.Background(), RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, int64(77), catalog.productImgs[10])
	assert.Equal(t, map[int64]int64{11: 77, 12: 77}, catalog.childImgs)
	assert.Equal(t, []string{"WDG 100"}, media.searched)
	assert.Equal(t, 1, summary.Attached)
	assert.Equal(t, 2, summary.Children)
	assert.Equal(t, 1, summary.Pages)
	assert.Zero(t, summary.NextPage)
	assert.Empty(t, sleeper.calls)

	assert.Equal(t, Rule, log.lines[0])
	assert.Equal(t, "Starting process at: 2024-03-01 10:30:00", log.lines[1])
	assert.Equal(t, Rule, log.lines[len(log.lines)-1])
	assert.True(t, log.contains("Searching media library for following keyword: WDG 100"))
	assert.True(t, log.contains("Product has variations, starting variation loop..."))
	assert.True(t, log.contains("Memory usage: 1,234,567"))
	assert.True(t, log.contains("Memory limit: 536,870,912"))
}

func TestRunSkipsProductWithoutSKU(t *testing.T) {
	catalog := newFakeCatalog(map[int][]Product{
		1: {{ID: 5, Title: "Blank", SKU: "   "}},
	})
	media := &fakeMedia{}
	log := &memoryLog{}
	recorder := countingRecorder{}
	p, _ := newTestProcessor(t, catalog, media, log)
	p.recorder = recorder

	summary, err := p.Run(context.Background(), RunOptions{})
	require.NoError(t, err)

	assert.Empty(t, media.searched)
	assert.Empty(t, catalog.productImgs)
	assert.Equal(t, 1, summary.NoSKU)
	assert.Equal(t, 1, recorder[OutcomeNoSKU])
	assert.True(t, log.contains("Product has no SKU, skipping product: 5"))
}

func TestRunLeavesProductUnchangedWithoutMatch(t *testing.T) {
	catalog := newFakeCatalog(map[int][]Product{
		1: {{ID: 8, Title: "Lamp", SKU: "LMP-1", Type: ProductTypeVariable, Children: []int64{9}}},
	})
	media := &fakeMedia{matches: map[string]MediaMatch{}}
	log := &memoryLog{}
	p, _ := newTestProcessor(t, catalog, media, log)

	summary, err := p.Run(context.Background(), RunOptions{})
	require.NoError(t, err)

	assert.Empty(t, catalog.productImgs)
	assert.Empty(t, catalog.childImgs)
	assert.Equal(t, 1, summary.NoMatch)
	assert.True(t, log.contains("No media ID found for product: Lamp - [ID 8]"))
}

func TestRunContinuesAfterFullPage(t *testing.T) {
	catalog := newFakeCatalog(map[int][]Product{
		1: fullPage(1),
		2: fullPage(101),
		3: {{ID: 500, Title: "Last", SKU: "LAST"}},
	})
	media := &fakeMedia{matches: map[string]MediaMatch{"LAST": {ID: 9}}}
	log := &memoryLog{}
	p, sleeper := newTestProcessor(t, catalog, media, log)

	summary, err := p.Run(context.Background(), RunOptions{StartPage: 1})
	require.NoError(t, err)

	assert.Equal(t, []int{1, 2, 3}, catalog.listed)
	assert.Equal(t, []time.Duration{DefaultPause, DefaultPause}, sleeper.calls)
	assert.Equal(t, 3, summary.Pages)
	assert.Equal(t, 2*PageSize+1, summary.Processed)
	assert.Equal(t, 1, summary.Attached)
	assert.True(t, log.contains("RESTING..."))
	assert.True(t, log.contains("REST COMPLETE, MOVING TO NEXT BATCH..."))
}

func TestRunStopsOnShortPage(t *testing.T) {
	catalog := newFakeCatalog(map[int][]Product{
		1: fullPage(1)[:PageSize-1],
	})
	p, sleeper := newTestProcessor(t, catalog, &fakeMedia{}, &memoryLog{})

	_, err := p.Run(context.Background(), RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, []int{1}, catalog.listed)
	assert.Empty(t, sleeper.calls)
}

func TestRunStopsWhenSkippedProductsLeavePageShort(t *testing.T) {
	first := fullPage(1)
	first[0].SKU = ""
	catalog := newFakeCatalog(map[int][]Product{
		1: first,
		2: fullPage(101)[:5],
	})
	log := &memoryLog{}
	p, sleeper := newTestProcessor(t, catalog, &fakeMedia{}, log)

	summary, err := p.Run(context.Background(), RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, []int{1}, catalog.listed)
	assert.Empty(t, sleeper.calls)
	assert.Equal(t, PageSize-1, summary.Processed)
	assert.Equal(t, 1, summary.NoSKU)
	assert.False(t, log.contains("RESTING..."))
}

func TestRunCountsUnmatchedProductsTowardsFullPage(t *testing.T) {
	first := fullPage(1)
	first[0].SKU = "-"
	catalog := newFakeCatalog(map[int][]Product{
		1: first,
	})
	p, sleeper := newTestProcessor(t, catalog, &fakeMedia{}, &memoryLog{})

	summary, err := p.Run(context.Background(), RunOptions{SinglePage: true})
	require.NoError(t, err)

	assert.Equal(t, PageSize, summary.NoMatch)
	assert.Equal(t, 2, summary.NextPage)
	assert.Empty(t, sleeper.calls)
}

func TestRunSinglePageWithSkippedProductHasNoNextPage(t *testing.T) {
	page := fullPage(201)
	page[10].SKU = ""
	catalog := newFakeCatalog(map[int][]Product{
		3: page,
	})
	p, _ := newTestProcessor(t, catalog, &fakeMedia{}, &memoryLog{})

	summary, err := p.Run(context.Background(), RunOptions{StartPage: 3, SinglePage: true})
	require.NoError(t, err)

	assert.Zero(t, summary.NextPage)
}

func TestRunReportsPeakHeapAcrossPages(t *testing.T) {
	catalog := newFakeCatalog(map[int][]Product{
		1: fullPage(1),
		2: fullPage(101)[:1],
	})
	log := &memoryLog{}
	p, _ := newTestProcessor(t, catalog, &fakeMedia{}, log)
	samples := []uint64{5000000, 2000000, 1000000}
	p.memory = func() MemoryStats {
		usage := samples[0]
		if len(samples) > 1 {
			samples = samples[1:]
		}
		return MemoryStats{Usage: usage}
	}

	_, err := p.Run(context.Background(), RunOptions{})
	require.NoError(t, err)

	assert.True(t, log.contains("Memory usage: 1,000,000"))
	assert.True(t, log.contains("Memory peak usage: 5,000,000"))
}

func TestRunEmptyCatalog(t *testing.T) {
	catalog := newFakeCatalog(nil)
	log := &memoryLog{}
	p, _ := newTestProcessor(t, catalog, &fakeMedia{}, log)

	summary, err := p.Run(context.Background(), RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Pages)
	assert.False(t, log.contains("Products found"))
	assert.True(t, log.contains("Ending process at: 2024-03-01 10:30:00"))
}

func TestRunSinglePageReportsNextPage(t *testing.T) {
	catalog := newFakeCatalog(map[int][]Product{
		3: fullPage(201),
	})
	p, sleeper := newTestProcessor(t, catalog, &fakeMedia{}, &memoryLog{})

	summary, err := p.Run(context.Background(), RunOptions{StartPage: 3, SinglePage: true})
	require.NoError(t, err)

	assert.Equal(t, 4, summary.NextPage)
	assert.Equal(t, []int{3}, catalog.listed)
	assert.Empty(t, sleeper.calls)
}

func TestRunLogsAmbiguousMatch(t *testing.T) {
	catalog := newFakeCatalog(map[int][]Product{
		1: {{ID: 3, Title: "Mug", SKU: "MUG"}},
	})
	media := &fakeMedia{matches: map[string]MediaMatch{"MUG": {ID: 40, Candidates: 3}}}
	log := &memoryLog{}
	p, _ := newTestProcessor(t, catalog, media, log)

	summary, err := p.Run(context.Background(), RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, int64(40), catalog.productImgs[3])
	assert.Equal(t, 1, summary.Ambiguous)
	assert.True(t, log.contains(`Keyword "MUG" matched 3 media items, using the first: 40`))
}

func TestRunSkipsSearchForBlankKeyword(t *testing.T) {
	catalog := newFakeCatalog(map[int][]Product{
		1: {{ID: 4, Title: "Dashes", SKU: "--"}},
	})
	media := &fakeMedia{}
	p, _ := newTestProcessor(t, catalog, media, &memoryLog{})

	summary, err := p.Run(context.Background(), RunOptions{})
	require.NoError(t, err)

	assert.Empty(t, media.searched)
	assert.Equal(t, 1, summary.NoMatch)
}

func TestRunPropagatesSaveFailure(t *testing.T) {
	catalog := newFakeCatalog(map[int][]Product{
		1: {{ID: 6, Title: "Chair", SKU: "CHR"}},
	})
	catalog.saveErr = errors.New("boom")
	media := &fakeMedia{matches: map[string]MediaMatch{"CHR": {ID: 2}}}
	log := &memoryLog{}
	p, _ := newTestProcessor(t, catalog, media, log)

	_, err := p.Run(context.Background(), RunOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, catalog.saveErr)
	assert.False(t, log.contains("Ending process at"))
}

func TestNewProcessorRequiresHost(t *testing.T) {
	_, err := NewProcessor(ProcessorConfig{Media: &fakeMedia{}})
	assert.Error(t, err)
	_, err = NewProcessor(ProcessorConfig{Catalog: newFakeCatalog(nil)})
	assert.Error(t, err)
}
