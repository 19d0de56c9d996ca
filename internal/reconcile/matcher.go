package reconcile

import (
	"context"
	"strings"

	"github.com/hackgods/calendar-sync/internal/appointment"
	"github.com/hackgods/calendar-sync/internal/extract"
)

// ClientMatcher decides which stored client an occurrence belongs to.
// Key must be equal for any two inputs Match would resolve to the same
// client, since it is also the lock key that serializes reconciliation.
type ClientMatcher interface {
	Key(info extract.Info) string
	// Match returns appointment.ErrClientNotFound on a miss.
	Match(ctx context.Context, repo appointment.Repository, info extract.Info) (*appointment.Client, error)
}

// NameMatcher matches by case-insensitive name with inner whitespace
// collapsed.
type NameMatcher struct{}

func (NameMatcher) Key(info extract.Info) string {
	return "name:" + appointment.NameKey(info.ClientName)
}

func (NameMatcher) Match(ctx context.Context, repo appointment.Repository, info extract.Info) (*appointment.Client, error) {
	return repo.FindClientByName(ctx, normalizeName(info.ClientName))
}

func normalizeName(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
