package subgraph

import (
	"context"
	"fmt"
)

// PageInfo is the cursor state of a connection page.
type PageInfo struct {
	EndCursor   *string `json:"endCursor"`
	HasNextPage bool    `json:"hasNextPage"`
}

// Page is one page of a cursor-paginated collection.
type Page[T any] struct {
	Items    []T      `json:"items"`
	PageInfo PageInfo `json:"pageInfo"`
}

// PageFunc fetches the page after cursor. A nil cursor requests the first page.
type PageFunc[T any] func(ctx context.Context, after *string) (*Page[T], error)

// FetchAll requests pages with after = endCursor until hasNextPage is false and
// concatenates items in response order. Any page error aborts the whole fetch:
// there is no partial result.
func FetchAll[T any](ctx context.Context, fetch PageFunc[T]) ([]T, error) {
	var (
		all    []T
		cursor *string
	)
	for page := 0; ; page++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		p, err := fetch(ctx, cursor)
		if err != nil {
			return nil, fmt.Errorf("fetch page %d: %w", page, err)
		}
		all = append(all, p.Items...)

		if !p.PageInfo.HasNextPage {
			return all, nil
		}
		if p.PageInfo.EndCursor == nil {
			return nil, fmt.Errorf("fetch page %d: hasNextPage without endCursor", page)
		}
		cursor = p.PageInfo.EndCursor
	}
}
