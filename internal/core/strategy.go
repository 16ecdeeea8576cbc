package core

import (
	"fmt"
	"math/rand"
	"sort"
)

// Strategy is the account-selection policy. It is configuration, not a code
// fork: one dispatcher serves all four policies.
type Strategy string

const (
	StrategyPriority   Strategy = "priority"
	StrategyRoundRobin Strategy = "round_robin"
	StrategyRandom     Strategy = "random"
	StrategyLeastUsed  Strategy = "least_used"
)

func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategyPriority, StrategyRoundRobin, StrategyRandom, StrategyLeastUsed:
		return Strategy(s), nil
	}
	return "", fmt.Errorf("unknown rotation strategy %q", s)
}

// pickPriority: lowest priority value wins, ties broken by lowest sent_count
// so equal-priority accounts share load. Account id is the final tiebreak to
// keep selection deterministic.
func pickPriority(eligible []Account, usage UsageSnapshot) Account {
	sorted := append([]Account(nil), eligible...)
	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		if usage[a.ID] != usage[b.ID] {
			return usage[a.ID] < usage[b.ID]
		}
		return a.ID < b.ID
	})
	return sorted[0]
}

// pickLeastUsed: lowest sent_count wins, ties broken by lowest priority.
func pickLeastUsed(eligible []Account, usage UsageSnapshot) Account {
	sorted := append([]Account(nil), eligible...)
	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if usage[a.ID] != usage[b.ID] {
			return usage[a.ID] < usage[b.ID]
		}
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		return a.ID < b.ID
	})
	return sorted[0]
}

func pickRandom(eligible []Account) Account {
	return eligible[rand.Intn(len(eligible))]
}

// pickRoundRobin walks the enabled list (not just the eligible subset) from
// the position after cursor, skipping accounts that are not eligible, and
// wraps at the end. Returns the chosen account and its new cursor position.
func pickRoundRobin(enabled []Account, eligible []Account, cursor int) (Account, int, bool) {
	if len(enabled) == 0 {
		return Account{}, cursor, false
	}
	ok := make(map[string]bool, len(eligible))
	for _, a := range eligible {
		ok[a.ID] = true
	}
	if cursor < 0 || cursor >= len(enabled) {
		cursor = len(enabled) - 1
	}
	for i := 1; i <= len(enabled); i++ {
		idx := (cursor + i) % len(enabled)
		if ok[enabled[idx].ID] {
			return enabled[idx], idx, true
		}
	}
	return Account{}, cursor, false
}
