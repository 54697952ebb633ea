package attach

import "context"

// PageSize is the number of products fetched per batch.
const PageSize = 100

// Product types that carry child records.
const (
	ProductTypeVariable = "variable"
	ProductTypeGrouped  = "grouped"
)

// Product is the slice of a store product the attach run reads and mutates.
type Product struct {
	ID    int64
	Title string
	SKU   string
	Type  string
	// Children holds variation ids for variable products and member ids for grouped ones.
	Children []int64
	// Gallery holds the current gallery image ids so image writes can keep them.
	Gallery []int64
}

// HasChildren reports whether the product has variations or grouped members.
func (p Product) HasChildren() bool {
	return len(p.Children) > 0
}

// MediaMatch is the first unattached media item found for a keyword.
type MediaMatch struct {
	ID int64
	// Candidates is the total number of items the search returned, when known.
	Candidates int
}

// Catalog pages through products and persists image assignments.
type Catalog interface {
	ListProducts(ctx context.Context, page, perPage int) ([]Product, error)
	SetProductImage(ctx context.Context, product Product, mediaID int64) error
	SetChildImage(ctx context.Context, parent Product, childID, mediaID int64) error
}

// MediaLibrary searches unattached media items.
type MediaLibrary interface {
	// FindUnattached returns the first match in relevance order. ok is false when nothing matched.
	FindUnattached(ctx context.Context, keyword string) (match MediaMatch, ok bool, err error)
}

// RunLog receives the human-readable progress lines of a run.
type RunLog interface {
	Log(ctx context.Context, message string)
}

// Outcome labels recorded per product.
const (
	OutcomeAttached  = "attached"
	OutcomeChild     = "child_attached"
	OutcomeNoSKU     = "no_sku"
	OutcomeNoMatch   = "no_match"
	OutcomeAmbiguous = "ambiguous"
)

// Recorder counts per-product outcomes, typically into Prometheus.
type Recorder interface {
	RecordOutcome(outcome string, count int)
}

// RunOptions controls where a run starts and whether it stops after one page.
type RunOptions struct {
	StartPage  int
	SinglePage bool
}

// Summary reports what a run did.
type Summary struct {
	RunID     string
	Pages     int
	Processed int
	Attached  int
	Children  int
	NoSKU     int
	NoMatch   int
	Ambiguous int
	// NextPage is the page to continue from when a single-page run ended on a full page.
	NextPage int
}
