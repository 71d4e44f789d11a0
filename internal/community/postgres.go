package community

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema is the SQL DDL for the community tables. Execute it via
// [PostgresStore.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS communities (
    id          TEXT PRIMARY KEY,
    name        TEXT NOT NULL,
    hobby       TEXT NOT NULL DEFAULT '',
    description TEXT NOT NULL DEFAULT '',
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS memberships (
    community_id TEXT NOT NULL REFERENCES communities(id) ON DELETE CASCADE,
    user_id      TEXT NOT NULL,
    joined_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (community_id, user_id)
);
CREATE INDEX IF NOT EXISTS idx_memberships_user ON memberships(user_id);
`

// foreignKeyViolation is the PostgreSQL SQLSTATE for a missing referenced row.
const foreignKeyViolation = "23503"

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore is a [Store] backed by PostgreSQL.
type PostgresStore struct {
	db DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore returns a store that uses db. The caller is responsible
// for calling [PostgresStore.Migrate] before issuing queries.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Open connects a pool to dsn and verifies it with a ping.
func Open(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("community: open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("community: ping: %w", err)
	}
	return pool, nil
}

// Migrate executes [Schema].
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("community: migrate: %w", err)
	}
	return nil
}

const selectCommunity = `
	SELECT c.id, c.name, c.hobby, c.description,
	       (SELECT count(*) FROM memberships m WHERE m.community_id = c.id),
	       c.created_at
	FROM communities c`

func scanCommunity(row pgx.Row) (Community, error) {
	var c Community
	var members int64
	err := row.Scan(&c.ID, &c.Name, &c.Hobby, &c.Description, &members, &c.CreatedAt)
	c.MemberCount = int(members)
	return c, err
}

// List implements [Store.List]. Member counts are computed in the same query.
func (s *PostgresStore) List(ctx context.Context) ([]Community, error) {
	rows, err := s.db.Query(ctx, selectCommunity+` ORDER BY c.name`)
	if err != nil {
		return nil, fmt.Errorf("community: list: %w", err)
	}
	return collectCommunities(rows, "list")
}

// Get implements [Store.Get]. A missing row is reported as [ErrNotFound].
func (s *PostgresStore) Get(ctx context.Context, id string) (*Community, error) {
	c, err := scanCommunity(s.db.QueryRow(ctx, selectCommunity+` WHERE c.id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("community: get %q: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("community: get %q: %w", id, err)
	}
	return &c, nil
}

// Join implements [Store.Join]. The insert relies on the memberships primary
// key to stay idempotent, and a foreign key violation on community_id is
// reported as [ErrNotFound].
func (s *PostgresStore) Join(ctx context.Context, communityID, userID string) (*Membership, error) {
	const insert = `
		INSERT INTO memberships (community_id, user_id)
		VALUES ($1, $2)
		ON CONFLICT (community_id, user_id) DO NOTHING`
	if _, err := s.db.Exec(ctx, insert, communityID, userID); err != nil {
		if isForeignKeyViolation(err) {
			return nil, fmt.Errorf("community: join %q: %w", communityID, ErrNotFound)
		}
		return nil, fmt.Errorf("community: join %q: %w", communityID, err)
	}

	const query = `
		SELECT community_id, user_id, joined_at
		FROM memberships
		WHERE community_id = $1 AND user_id = $2`
	var m Membership
	if err := s.db.QueryRow(ctx, query, communityID, userID).Scan(&m.CommunityID, &m.UserID, &m.JoinedAt); err != nil {
		return nil, fmt.Errorf("community: join %q: %w", communityID, err)
	}
	return &m, nil
}

// Members implements [Store.Members]. It returns [ErrNotFound] for an unknown
// community rather than an empty list.
func (s *PostgresStore) Members(ctx context.Context, communityID string) ([]Membership, error) {
	if _, err := s.Get(ctx, communityID); err != nil {
		return nil, err
	}

	const query = `
		SELECT community_id, user_id, joined_at
		FROM memberships
		WHERE community_id = $1
		ORDER BY joined_at, user_id`
	rows, err := s.db.Query(ctx, query, communityID)
	if err != nil {
		return nil, fmt.Errorf("community: members %q: %w", communityID, err)
	}
	defer rows.Close()

	var out []Membership
	for rows.Next() {
		var m Membership
		if err := rows.Scan(&m.CommunityID, &m.UserID, &m.JoinedAt); err != nil {
			return nil, fmt.Errorf("community: members %q: scan: %w", communityID, err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("community: members %q: %w", communityID, err)
	}
	return out, nil
}

// MembershipsOf implements [Store.MembershipsOf].
func (s *PostgresStore) MembershipsOf(ctx context.Context, userID string) ([]Community, error) {
	rows, err := s.db.Query(ctx, selectCommunity+`
	JOIN memberships mu ON mu.community_id = c.id
	WHERE mu.user_id = $1
	ORDER BY c.name`, userID)
	if err != nil {
		return nil, fmt.Errorf("community: memberships of %q: %w", userID, err)
	}
	return collectCommunities(rows, "memberships")
}

func collectCommunities(rows pgx.Rows, op string) ([]Community, error) {
	defer rows.Close()
	var out []Community
	for rows.Next() {
		c, err := scanCommunity(rows)
		if err != nil {
			return nil, fmt.Errorf("community: %s: scan: %w", op, err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("community: %s: %w", op, err)
	}
	return out, nil
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation
}
