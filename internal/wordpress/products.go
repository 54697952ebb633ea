package wordpress

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/wc-attach-images/wc-attach-images/internal/attach"
)

// DefaultProductStatus mirrors what a front-end product query returns.
const DefaultProductStatus = "publish"

type wcImage struct {
	ID int64 `json:"id"`
}

type wcProduct struct {
	ID              int64     `json:"id"`
	Name            string    `json:"name"`
	SKU             string    `json:"sku"`
	Type            string    `json:"type"`
	Variations      []int64   `json:"variations"`
	GroupedProducts []int64   `json:"grouped_products"`
	Images          []wcImage `json:"images"`
}

func (p wcProduct) toDomain() attach.Product {
	product := attach.Product{
		ID:    p.ID,
		Title: p.Name,
		SKU:   p.SKU,
		Type:  p.Type,
	}
	switch p.Type {
	case attach.ProductTypeGrouped:
		product.Children = p.GroupedProducts
	default:
		product.Children = p.Variations
	}
	if len(p.Images) > 1 {
		product.Gallery = make([]int64, 0, len(p.Images)-1)
		for _, img := range p.Images[1:] {
			product.Gallery = append(product.Gallery, img.ID)
		}
	}
	return product
}

type productImageUpdate struct {
	Images []wcImage `json:"images"`
}

type variationImageUpdate struct {
	Image wcImage `json:"image"`
}

// Catalog implements attach.Catalog over wc/v3.
type Catalog struct {
	client *Client
	status string
}

// NewCatalog builds a Catalog filtering products by status ("any" disables the filter).
func NewCatalog(client *Client, status string) *Catalog {
	if status == "" {
		status = DefaultProductStatus
	}
	return &Catalog{client: client, status: status}
}

// ListProducts returns one page ordered newest first. A page past the end is empty.
func (c *Catalog) ListProducts(ctx context.Context, page, perPage int) ([]attach.Product, error) {
	query := url.Values{}
	query.Set("page", strconv.Itoa(page))
	query.Set("per_page", strconv.Itoa(perPage))
	query.Set("orderby", "date")
	query.Set("order", "desc")
	query.Set("status", c.status)

	var items []wcProduct
	if _, err := c.client.do(ctx, http.MethodGet, "wc/v3/products", query, nil, &items); err != nil {
		if isInvalidPage(err) {
			return nil, nil
		}
		return nil, err
	}
	products := make([]attach.Product, 0, len(items))
	for _, item := range items {
		products = append(products, item.toDomain())
	}
	return products, nil
}

// SetProductImage makes mediaID the featured image and keeps the existing gallery.
func (c *Catalog) SetProductImage(ctx context.Context, product attach.Product, mediaID int64) error {
	return c.putProductImages(ctx, product.ID, mediaID, product.Gallery)
}

// SetChildImage updates a variation, or a grouped member product.
func (c *Catalog) SetChildImage(ctx context.Context, parent attach.Product, childID, mediaID int64) error {
	if parent.Type == attach.ProductTypeGrouped {
		var child wcProduct
		if _, err := c.client.do(ctx, http.MethodGet, "wc/v3/products/"+strconv.FormatInt(childID, 10), nil, nil, &child); err != nil {
			return err
		}
		return c.putProductImages(ctx, childID, mediaID, child.toDomain().Gallery)
	}
	route := "wc/v3/products/" + strconv.FormatInt(parent.ID, 10) + "/variations/" + strconv.FormatInt(childID, 10)
	_, err := c.client.do(ctx, http.MethodPut, route, nil, variationImageUpdate{Image: wcImage{ID: mediaID}}, nil)
	return err
}

func (c *Catalog) putProductImages(ctx context.Context, productID, mediaID int64, gallery []int64) error {
	images := make([]wcImage, 0, len(gallery)+1)
	images = append(images, wcImage{ID: mediaID})
	for _, id := range gallery {
		if id == mediaID {
			continue
		}
		images = append(images, wcImage{ID: id})
	}
	_, err := c.client.do(ctx, http.MethodPut, "wc/v3/products/"+strconv.FormatInt(productID, 10), nil, productImageUpdate{Images: images}, nil)
	return err
}
