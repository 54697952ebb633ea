package wpdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/wc-attach-images/wc-attach-images/internal/attach"
)

const thumbnailMetaKey = "_thumbnail_id"

// Catalog implements attach.Catalog against the posts and postmeta tables.
type Catalog struct {
	db     *sql.DB
	prefix string
	status string
}

// NewCatalog builds a Catalog. status "any" lists every non-trashed product.
func NewCatalog(db *sql.DB, prefix, status string) (*Catalog, error) {
	if db == nil {
		return nil, errors.New("wpdb: db not configured")
	}
	p, err := validatePrefix(prefix)
	if err != nil {
		return nil, err
	}
	if status == "" {
		status = "publish"
	}
	return &Catalog{db: db, prefix: p, status: status}, nil
}

func (c *Catalog) productsQuery() string {
	statusClause := "p.post_status = ?"
	if c.status == "any" {
		statusClause = "p.post_status NOT IN ('trash', 'auto-draft')"
	}
	return fmt.Sprintf(`SELECT p.ID, p.post_title,
	COALESCE((SELECT m.meta_value FROM %[1]spostmeta m WHERE m.post_id = p.ID AND m.meta_key = '_sku' LIMIT 1), '')
FROM %[1]sposts p
WHERE p.post_type = 'product' AND %[2]s
ORDER BY p.post_date DESC, p.ID DESC
LIMIT ? OFFSET ?`, c.prefix, statusClause)
}

// ListProducts returns one page of products, newest first, with their variation ids.
func (c *Catalog) ListProducts(ctx context.Context, page, perPage int) ([]attach.Product, error) {
	if page < 1 {
		page = 1
	}
	args := make([]any, 0, 3)
	if c.status != "any" {
		args = append(args, c.status)
	}
	args = append(args, perPage, (page-1)*perPage)

	rows, err := c.db.QueryContext(ctx, c.productsQuery(), args...)
	if err != nil {
		return nil, fmt.Errorf("wpdb: list products: %w", err)
	}
	defer rows.Close()

	products := make([]attach.Product, 0, perPage)
	index := make(map[int64]int, perPage)
	for rows.Next() {
		var p attach.Product
		if err := rows.Scan(&p.ID, &p.Title, &p.SKU); err != nil {
			return nil, err
		}
		index[p.ID] = len(products)
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(products) == 0 {
		return nil, nil
	}

	if err := c.loadVariations(ctx, products, index); err != nil {
		return nil, err
	}
	return products, nil
}

func (c *Catalog) loadVariations(ctx context.Context, products []attach.Product, index map[int64]int) error {
	placeholders := make([]string, 0, len(products))
	args := make([]any, 0, len(products))
	for _, p := range products {
		placeholders = append(placeholders, "?")
		args = append(args, p.ID)
	}
	query := fmt.Sprintf(`SELECT ID, post_parent FROM %sposts
WHERE post_type = 'product_variation' AND post_status IN ('publish', 'private') AND post_parent IN (%s)
ORDER BY menu_order ASC, ID ASC`, c.prefix, strings.Join(placeholders, ", "))

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("wpdb: list variations: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id, parent int64
		if err := rows.Scan(&id, &parent); err != nil {
			return err
		}
		i, ok := index[parent]
		if !ok {
			continue
		}
		products[i].Type = attach.ProductTypeVariable
		products[i].Children = append(products[i].Children, id)
	}
	return rows.Err()
}

// SetProductImage writes the product's _thumbnail_id.
func (c *Catalog) SetProductImage(ctx context.Context, product attach.Product, mediaID int64) error {
	return c.setThumbnail(ctx, product.ID, mediaID)
}

// SetChildImage writes the variation's _thumbnail_id.
func (c *Catalog) SetChildImage(ctx context.Context, parent attach.Product, childID, mediaID int64) error {
	return c.setThumbnail(ctx, childID, mediaID)
}

func (c *Catalog) setThumbnail(ctx context.Context, postID, mediaID int64) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("wpdb: begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	value := strconv.FormatInt(mediaID, 10)
	var metaID int64
	err = tx.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT meta_id FROM %spostmeta WHERE post_id = ? AND meta_key = ? LIMIT 1`, c.prefix),
		postID, thumbnailMetaKey,
	).Scan(&metaID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = tx.ExecContext(ctx,
			fmt.Sprintf(`INSERT INTO %spostmeta (post_id, meta_key, meta_value) VALUES (?, ?, ?)`, c.prefix),
			postID, thumbnailMetaKey, value,
		)
	case err == nil:
		_, err = tx.ExecContext(ctx,
			fmt.Sprintf(`UPDATE %spostmeta SET meta_value = ? WHERE meta_id = ?`, c.prefix),
			value, metaID,
		)
	}
	if err != nil {
		return fmt.Errorf("wpdb: set thumbnail of post %d: %w", postID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("wpdb: commit tx: %w", err)
	}
	return nil
}
