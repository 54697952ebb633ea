package wpdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/wc-attach-images/wc-attach-images/internal/attach"
)

// WordPress treats searches with more than this many words as one phrase.
const maxSearchTerms = 9

// Terms beyond this count skip the all/any title ranking tiers.
const maxRankedTerms = 7

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// Media implements attach.MediaLibrary with WordPress keyword search semantics.
type Media struct {
	db     *sql.DB
	prefix string
}

// NewMedia builds a Media searcher.
func NewMedia(db *sql.DB, prefix string) (*Media, error) {
	if db == nil {
		return nil, errors.New("wpdb: db not configured")
	}
	p, err := validatePrefix(prefix)
	if err != nil {
		return nil, err
	}
	return &Media{db: db, prefix: p}, nil
}

// FindUnattached returns the first attachment without a parent matching keyword.
func (m *Media) FindUnattached(ctx context.Context, keyword string) (attach.MediaMatch, bool, error) {
	query, args, ok := buildMediaSearch(m.prefix, keyword)
	if !ok {
		return attach.MediaMatch{}, false, nil
	}
	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return attach.MediaMatch{}, false, fmt.Errorf("wpdb: search media: %w", err)
	}
	defer rows.Close()

	var match attach.MediaMatch
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return attach.MediaMatch{}, false, err
		}
		if match.Candidates == 0 {
			match.ID = id
		}
		match.Candidates++
	}
	if err := rows.Err(); err != nil {
		return attach.MediaMatch{}, false, err
	}
	return match, match.Candidates > 0, nil
}

func searchTerms(keyword string) []string {
	terms := strings.Fields(keyword)
	if len(terms) > maxSearchTerms {
		return []string{strings.TrimSpace(keyword)}
	}
	return terms
}

func likeArg(s string) string {
	return "%" + likeEscaper.Replace(s) + "%"
}

// buildMediaSearch renders the attachment search: every term must appear in the title,
// excerpt or content, and rows are ranked the way WordPress orders search results.
func buildMediaSearch(prefix, keyword string) (string, []any, bool) {
	terms := searchTerms(keyword)
	if len(terms) == 0 {
		return "", nil, false
	}

	var (
		where strings.Builder
		args  []any
	)
	for i, term := range terms {
		if i > 0 {
			where.WriteString(" AND ")
		}
		where.WriteString("(p.post_title LIKE ? OR p.post_excerpt LIKE ? OR p.post_content LIKE ?)")
		like := likeArg(term)
		args = append(args, like, like, like)
	}

	var orderBy string
	if len(terms) > 1 {
		phrase := likeArg(strings.Join(terms, " "))
		var rank strings.Builder
		rank.WriteString("CASE WHEN p.post_title LIKE ? THEN 1")
		args = append(args, phrase)
		if len(terms) < maxRankedTerms {
			titleLikes := make([]string, len(terms))
			for i := range terms {
				titleLikes[i] = "p.post_title LIKE ?"
			}
			rank.WriteString(" WHEN " + strings.Join(titleLikes, " AND ") + " THEN 2")
			for _, term := range terms {
				args = append(args, likeArg(term))
			}
			rank.WriteString(" WHEN " + strings.Join(titleLikes, " OR ") + " THEN 3")
			for _, term := range terms {
				args = append(args, likeArg(term))
			}
		}
		rank.WriteString(" WHEN p.post_excerpt LIKE ? THEN 4 WHEN p.post_content LIKE ? THEN 5 ELSE 6 END")
		args = append(args, phrase, phrase)
		orderBy = rank.String() + ", p.post_date DESC"
	} else {
		orderBy = "p.post_title LIKE ? DESC, p.post_date DESC"
		args = append(args, likeArg(terms[0]))
	}

	query := fmt.Sprintf(`SELECT p.ID FROM %sposts p
WHERE p.post_type = 'attachment' AND p.post_status = 'inherit' AND p.post_parent = 0 AND %s
ORDER BY %s`, prefix, where.String(), orderBy)
	return query, args, true
}
