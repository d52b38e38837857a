// Package items defines the records extracted by item handlers and the store
// they are persisted to.
package items

import "context"

// Member is a group member discovered on a members page.
type Member struct {
	HomeURL string
	Name    string
}

// Key identifies a member across pages.
func (m Member) Key() string {
	return "member:" + m.HomeURL
}

// Couplet is a pair of matching lines.
type Couplet struct {
	First     string
	Second    string
	SourceURL string
}

// Key identifies a couplet by its text, regardless of where it was found.
func (c Couplet) Key() string {
	return "couplet:" + c.First + "|" + c.Second
}

// Store persists extracted items. Writes are idempotent.
type Store interface {
	UpsertMember(ctx context.Context, m Member) error
	SaveCouplet(ctx context.Context, c Couplet) error
	Close()
}
