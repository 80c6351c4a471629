package store

import (
	"context"
	"time"

	"github.com/solarwatch/growattproxy/pkg/logger"
)

type queryKey struct{}

// Hooks instruments every query through sqlhooks so slow inserts are
// visible in the session's log, the way ClusterCockpit wraps its sqlite3
// and mysql drivers (here, also postgres).
type Hooks struct {
	Log logger.Logger
}

func (h *Hooks) Before(ctx context.Context, query string, args ...any) (context.Context, error) {
	h.Log.Debug("sql query %s %v", query, args)
	return context.WithValue(ctx, queryKey{}, time.Now()), nil
}

func (h *Hooks) After(ctx context.Context, query string, args ...any) (context.Context, error) {
	if begin, ok := ctx.Value(queryKey{}).(time.Time); ok {
		h.Log.Debug("query took %s", time.Since(begin))
	}
	return ctx, nil
}
