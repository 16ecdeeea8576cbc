package core

import (
	"fmt"
)

// Registry owns the authoritative list of configured accounts. It is a pure
// query layer: persistence and usage tracking stay outside.
type Registry struct {
	accounts []Account
	byID     map[string]Account
}

func NewRegistry(accounts []Account) (*Registry, error) {
	byID := make(map[string]Account, len(accounts))
	for _, a := range accounts {
		if a.ID == "" {
			return nil, fmt.Errorf("account with empty id")
		}
		if a.DailyLimit < 0 {
			return nil, fmt.Errorf("account %s: negative daily_limit", a.ID)
		}
		if _, dup := byID[a.ID]; dup {
			return nil, fmt.Errorf("duplicate account id %s", a.ID)
		}
		byID[a.ID] = a
	}
	return &Registry{accounts: accounts, byID: byID}, nil
}

// ListEnabled returns all enabled accounts. Callers must not rely on the
// order; selection strategies impose their own.
func (r *Registry) ListEnabled() []Account {
	out := make([]Account, 0, len(r.accounts))
	for _, a := range r.accounts {
		if a.Enabled {
			out = append(out, a)
		}
	}
	return out
}

// All returns every configured account, enabled or not.
func (r *Registry) All() []Account {
	out := make([]Account, len(r.accounts))
	copy(out, r.accounts)
	return out
}

func (r *Registry) Get(id string) (Account, error) {
	a, ok := r.byID[id]
	if !ok {
		return Account{}, fmt.Errorf("%w: %s", ErrAccountNotFound, id)
	}
	return a, nil
}

// EligibleForToday filters enabled accounts to those under their daily cap
// according to the supplied usage snapshot.
func (r *Registry) EligibleForToday(usage UsageSnapshot) []Account {
	out := make([]Account, 0, len(r.accounts))
	for _, a := range r.accounts {
		if !a.Enabled {
			continue
		}
		if a.DailyLimit == 0 || usage[a.ID] < a.DailyLimit {
			out = append(out, a)
		}
	}
	return out
}
