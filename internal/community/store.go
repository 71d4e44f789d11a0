// Package community serves the hobby community catalog and its memberships.
//
// Communities and memberships live in PostgreSQL. Users are identified by the
// opaque id the hosted auth gateway puts in the X-User-ID header; this
// package never sees credentials.
package community

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a community does not exist.
var ErrNotFound = errors.New("community: not found")

// Community is one entry of the catalog.
type Community struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Hobby       string    `json:"hobby"`
	Description string    `json:"description"`
	MemberCount int       `json:"member_count"`
	CreatedAt   time.Time `json:"created_at"`
}

// Membership links a user to a community.
type Membership struct {
	CommunityID string    `json:"community_id"`
	UserID      string    `json:"user_id"`
	JoinedAt    time.Time `json:"joined_at"`
}

// Store is the persistence boundary for communities.
// Implementations must be safe for concurrent use.
type Store interface {
	// List returns every community ordered by name.
	List(ctx context.Context) ([]Community, error)

	// Get returns the community with the given id or [ErrNotFound].
	Get(ctx context.Context, id string) (*Community, error)

	// Join adds userID to the community. Joining twice is not an error; the
	// original membership is returned. Returns [ErrNotFound] if the community
	// does not exist.
	Join(ctx context.Context, communityID, userID string) (*Membership, error)

	// Members lists the memberships of a community, oldest first.
	Members(ctx context.Context, communityID string) ([]Membership, error)

	// MembershipsOf lists the communities userID has joined, ordered by name.
	MembershipsOf(ctx context.Context, userID string) ([]Community, error)
}
