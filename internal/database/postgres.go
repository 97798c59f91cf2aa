package database

import (
	"context"
	"database/sql"
	"time"
)

type PgQuizRepository struct {
	conn *sql.DB
}

var _ QuizRepository = (*PgQuizRepository)(nil)

func NewPgQuizRepository(dsn string) (*PgQuizRepository, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(25)
	db.SetConnMaxIdleTime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return &PgQuizRepository{conn: db}, nil
}

// DB exposes the pool for the migration runner.
func (db *PgQuizRepository) DB() *sql.DB {
	return db.conn
}

func (db *PgQuizRepository) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

func (db *PgQuizRepository) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}
