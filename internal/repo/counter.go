package repo

import (
	"sync/atomic"

	"gorm.io/gorm"
)

// QueryCounter is a gorm plugin counting executed read queries. It
// backs the guarantee that status aggregation never goes N+1.
type QueryCounter struct {
	queries uint64
}

func (c *QueryCounter) Name() string {
	return "query_counter"
}

func (c *QueryCounter) Initialize(db *gorm.DB) error {
	count := func(*gorm.DB) {
		atomic.AddUint64(&c.queries, 1)
	}
	if err := db.Callback().Query().After("gorm:query").Register("query_counter:query", count); err != nil {
		return err
	}
	if err := db.Callback().Row().After("gorm:row").Register("query_counter:row", count); err != nil {
		return err
	}
	return db.Callback().Raw().After("gorm:raw").Register("query_counter:raw", count)
}

// Count returns the number of read queries since the last reset.
func (c *QueryCounter) Count() uint64 {
	return atomic.LoadUint64(&c.queries)
}

// Reset zeroes the counter.
func (c *QueryCounter) Reset() {
	atomic.StoreUint64(&c.queries, 0)
}
