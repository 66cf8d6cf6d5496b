package subgraph

import (
	"context"

	"go.uber.org/zap"

	"trove-capacity-lab/internal/domain"
)

// Collection names as exposed by the indexer schema.
const (
	CollectionRedemptions   = "redemptions"
	CollectionTroveUpdateds = "troveUpdateds"
)

const redemptionsQuery = `
query Redemptions($after: String) {
  redemptions(after: $after) {
    pageInfo { endCursor hasNextPage }
    items {
      id
      timestamp
      troveManager
      transactionHash
      price
      collDecrease
      debtDecrease
      entireColl
      entireDebt
      attemptedBoldAmount
      redemptionPrice
    }
  }
}`

const troveUpdatedsQuery = `
query TroveUpdateds($after: String) {
  troveUpdateds(after: $after) {
    pageInfo { endCursor hasNextPage }
    items {
      id
      timestamp
      troveManager
      transactionHash
      troveId
      coll
      debt
      entireColl
      entireDebt
      price
    }
  }
}`

// EventSource is the upstream boundary the pipeline reads from.
type EventSource interface {
	// Redemptions returns every Redemption record in indexer order.
	Redemptions(ctx context.Context) ([]domain.RawRedemption, error)

	// TroveUpdates returns every TroveUpdated record in indexer order.
	TroveUpdates(ctx context.Context) ([]domain.RawTroveUpdated, error)
}

// Compile-time interface check.
var _ EventSource = (*HTTPClient)(nil)

// Redemptions fetches all redemption pages.
func (c *HTTPClient) Redemptions(ctx context.Context) ([]domain.RawRedemption, error) {
	return FetchAll(ctx, pageFunc[domain.RawRedemption](c, CollectionRedemptions, redemptionsQuery))
}

// TroveUpdates fetches all trove update pages.
func (c *HTTPClient) TroveUpdates(ctx context.Context) ([]domain.RawTroveUpdated, error) {
	return FetchAll(ctx, pageFunc[domain.RawTroveUpdated](c, CollectionTroveUpdateds, troveUpdatedsQuery))
}

func pageFunc[T any](c *HTTPClient, field, q string) PageFunc[T] {
	return func(ctx context.Context, after *string) (*Page[T], error) {
		vars := map[string]any{}
		if after != nil {
			vars["after"] = *after
		}

		var page Page[T]
		if err := c.query(ctx, field, q, vars, &page); err != nil {
			return nil, err
		}

		c.logger.Debug("fetched page",
			zap.String("collection", field),
			zap.Int("items", len(page.Items)),
			zap.Bool("hasNextPage", page.PageInfo.HasNextPage),
		)
		if c.metrics != nil {
			c.metrics.PagesFetched.WithLabelValues(field).Inc()
			c.metrics.ItemsFetched.WithLabelValues(field).Add(float64(len(page.Items)))
		}
		return &page, nil
	}
}
