package repository

import (
	"context"
	"embed"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// Store groups the repositories the publishing pipeline writes through.
// Repositories returned from a Store passed to InTx share its transaction.
type Store interface {
	Posts() PostRepository
	UploadLogs() UploadLogRepository
	SocialAccounts() SocialAccountRepository
	InTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error
}

// Open connects to Postgres and applies the embedded migrations.
func Open(ctx context.Context, uri string) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", uri)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("running database migrations")
	goose.SetBaseFS(embedMigrations)
	if err := goose.SetDialect("postgres"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db.DB, "migrations"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return db, nil
}

type store struct {
	db  *sqlx.DB
	ext sqlx.ExtContext
}

func NewStore(db *sqlx.DB) Store {
	return &store{db: db, ext: db}
}

func (s *store) Posts() PostRepository {
	return NewPostRepository(s.ext)
}

func (s *store) UploadLogs() UploadLogRepository {
	return NewUploadLogRepository(s.ext)
}

func (s *store) SocialAccounts() SocialAccountRepository {
	return NewSocialAccountRepository(s.ext)
}

func (s *store) InTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	if _, ok := s.ext.(*sqlx.Tx); ok {
		return fn(ctx, s)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	defer tx.Rollback()

	if err := fn(ctx, &store{db: s.db, ext: tx}); err != nil {
		return err
	}
	return tx.Commit()
}
