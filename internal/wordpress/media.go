package wordpress

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/wc-attach-images/wc-attach-images/internal/attach"
)

// Media implements attach.MediaLibrary over wp/v2/media.
type Media struct {
	client *Client
}

// NewMedia builds a Media searcher.
func NewMedia(client *Client) *Media {
	return &Media{client: client}
}

// FindUnattached searches media items without a parent post and returns the first one by
// relevance. The candidate count comes from the X-WP-Total header.
func (m *Media) FindUnattached(ctx context.Context, keyword string) (attach.MediaMatch, bool, error) {
	query := url.Values{}
	query.Set("search", keyword)
	query.Set("parent", "0")
	query.Set("per_page", "1")
	query.Set("orderby", "relevance")
	query.Set("_fields", "id")

	var items []struct {
		ID int64 `json:"id"`
	}
	header, err := m.client.do(ctx, http.MethodGet, "wp/v2/media", query, nil, &items)
	if err != nil {
		return attach.MediaMatch{}, false, err
	}
	if len(items) == 0 {
		return attach.MediaMatch{}, false, nil
	}
	match := attach.MediaMatch{ID: items[0].ID, Candidates: 1}
	if total, err := strconv.Atoi(strings.TrimSpace(header.Get("X-WP-Total"))); err == nil && total > 0 {
		match.Candidates = total
	}
	return match, true, nil
}
