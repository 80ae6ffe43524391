package analytics

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
)

// AggregatesResponse is the JSON response for GET /aggregates.
type AggregatesResponse struct {
	Aggregates []Aggregate `json:"aggregates"`
}

// QueryFromRequest reads run_id, profile_id, group_by, from, to (RFC3339) and limit query parameters.
// Unparseable times and limits are ignored.
func QueryFromRequest(c *fiber.Ctx) Query {
	q := Query{
		RunID:     c.Query("run_id"),
		ProfileID: c.Query("profile_id"),
		GroupBy:   c.Query("group_by"),
		Limit:     DefaultLimit,
	}
	if from := c.Query("from"); from != "" {
		if t, err := time.Parse(time.RFC3339, from); err == nil {
			q.From = t
		}
	}
	if to := c.Query("to"); to != "" {
		if t, err := time.Parse(time.RFC3339, to); err == nil {
			q.To = t
		}
	}
	if limit := c.Query("limit"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil && n > 0 {
			q.Limit = n
		}
	}
	return q
}

// Handler serves aggregate queries against store.
func Handler(store Store) fiber.Handler {
	return func(c *fiber.Ctx) error {
		q := QueryFromRequest(c)
		agg, err := store.Query(c.UserContext(), q)
		if err != nil {
			log.Error().Err(err).Str("group_by", q.GroupBy).Msg("analytics query failed")
			return fiber.NewError(fiber.StatusInternalServerError, "analytics query failed")
		}
		if agg == nil {
			agg = []Aggregate{}
		}
		return c.JSON(AggregatesResponse{Aggregates: agg})
	}
}
