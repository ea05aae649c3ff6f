package db

import "go.uber.org/zap"

// Store runs the reminder, schedule and relay queries.
type Store struct {
	db     *DB
	logger *zap.Logger
}

// NewStore creates a store on top of a connection pool.
func NewStore(db *DB, logger *zap.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger,
	}
}
