// Command seed fills a local WordPress database with demo products and unattached
// media so the mysql backend can be tried end to end.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/wc-attach-images/wc-attach-images/internal/wordpress/wpdb"
)

type seedProduct struct {
	Title      string
	SKU        string
	Variations int
}

var products = []seedProduct{
	{Title: "Widget", SKU: "WDG-100-2024"},
	{Title: "Red Shirt", SKU: "SHIRT-RED-42", Variations: 3},
	{Title: "Cap", SKU: "CAP"},
	{Title: "Mystery Box"},
	{Title: "Poster", SKU: "PST&amp;A3"},
}

var media = []string{
	"WDG 100",
	"SHIRT RED front",
	"CAP",
	"CAP side",
	"PST&A3",
}

func main() {
	dsn := getenv("WP_DB_DSN", "wordpress:wordpress@tcp(127.0.0.1:3306)/wordpress?parseTime=true")
	prefix := getenv("WP_DB_PREFIX", "wp_")
	ctx := context.Background()

	db, err := wpdb.Open(ctx, dsn)
	if err != nil {
		log.Fatalf("connect mysql: %v", err)
	}
	defer db.Close()

	mediaLib, err := wpdb.NewMedia(db, prefix)
	if err != nil {
		log.Fatalf("media: %v", err)
	}
	catalog, err := wpdb.NewCatalog(db, prefix, "publish")
	if err != nil {
		log.Fatalf("catalog: %v", err)
	}

	fmt.Println("→ Seeding products...")
	for _, p := range products {
		id, err := insertPost(ctx, db, prefix, p.Title, "product", "publish", 0, "")
		if err != nil {
			log.Fatalf("seed product %q: %v", p.Title, err)
		}
		if p.SKU != "" {
			if err := insertMeta(ctx, db, prefix, id, "_sku", p.SKU); err != nil {
				log.Fatalf("seed sku %q: %v", p.SKU, err)
			}
		}
		for i := 1; i <= p.Variations; i++ {
			title := fmt.Sprintf("%s - Variation %d", p.Title, i)
			if _, err := insertPost(ctx, db, prefix, title, "product_variation", "publish", id, ""); err != nil {
				log.Fatalf("seed variation %q: %v", title, err)
			}
		}
	}

	fmt.Println("→ Seeding unattached media...")
	for _, title := range media {
		if _, err := insertPost(ctx, db, prefix, title, "attachment", "inherit", 0, "image/jpeg"); err != nil {
			log.Fatalf("seed media %q: %v", title, err)
		}
	}

	fmt.Println("→ Checking backend...")
	listed, err := catalog.ListProducts(ctx, 1, 100)
	if err != nil {
		log.Fatalf("list products: %v", err)
	}
	match, ok, err := mediaLib.FindUnattached(ctx, "WDG 100")
	if err != nil {
		log.Fatalf("search media: %v", err)
	}
	fmt.Printf("  %d products on page 1, media match for %q: %v (id %d)\n", len(listed), "WDG 100", ok, match.ID)

	fmt.Println("✓ Seed complete at", time.Now().Format(time.RFC3339))
}

func insertPost(ctx context.Context, db *sql.DB, prefix, title, postType, status string, parent int64, mime string) (int64, error) {
	now := time.Now().UTC()
	query := fmt.Sprintf(`INSERT INTO %sposts
	(post_author, post_date, post_date_gmt, post_content, post_title, post_excerpt, post_status, post_name,
	 to_ping, pinged, post_modified, post_modified_gmt, post_content_filtered, post_parent, guid, post_type, post_mime_type)
VALUES (1, ?, ?, '', ?, '', ?, '', '', '', ?, ?, '', ?, '', ?, ?)`, prefix)
	res, err := db.ExecContext(ctx, query, now, now, title, status, now, now, parent, postType, mime)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func insertMeta(ctx context.Context, db *sql.DB, prefix string, postID int64, key, value string) error {
	query := fmt.Sprintf("INSERT INTO %spostmeta (post_id, meta_key, meta_value) VALUES (?, ?, ?)", prefix)
	_, err := db.ExecContext(ctx, query, postID, key, value)
	return err
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
