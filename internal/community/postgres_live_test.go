package community

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/google/uuid"
)

// TestPostgresStore_Live runs against a real database when
// HOBBYSTREAK_TEST_POSTGRES_DSN is set.
func TestPostgresStore_Live(t *testing.T) {
	dsn := os.Getenv("HOBBYSTREAK_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("HOBBYSTREAK_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()

	pool, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(pool.Close)

	store := NewPostgresStore(pool)
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	id := uuid.NewString()
	user := uuid.NewString()
	if _, err := pool.Exec(ctx, `INSERT INTO communities (id, name, hobby) VALUES ($1, $2, $3)`, id, "Live "+id, "pottery"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	t.Cleanup(func() {
		_, _ = pool.Exec(context.Background(), `DELETE FROM communities WHERE id = $1`, id)
	})

	first, err := store.Join(ctx, id, user)
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	second, err := store.Join(ctx, id, user)
	if err != nil {
		t.Fatalf("Join again: %v", err)
	}
	if !first.JoinedAt.Equal(second.JoinedAt) {
		t.Errorf("rejoin should keep the original membership: %v vs %v", first.JoinedAt, second.JoinedAt)
	}

	c, err := store.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if c.MemberCount != 1 || c.Hobby != "pottery" {
		t.Errorf("got %+v", c)
	}

	mine, err := store.MembershipsOf(ctx, user)
	if err != nil {
		t.Fatalf("MembershipsOf: %v", err)
	}
	if len(mine) != 1 || mine[0].ID != id {
		t.Errorf("got %+v", mine)
	}

	if _, err := store.Join(ctx, uuid.NewString(), user); !errors.Is(err, ErrNotFound) {
		t.Errorf("join unknown: got %v, want ErrNotFound", err)
	}
}
