// Package roles computes minimal role-membership diffs and applies them as
// idempotent "set member roles" intents through a rate-limited queue.
package roles

// Plan computes the final role set after removing removeSet and adding
// addSet, and whether it differs from the current set. Order-insensitive;
// duplicates in current are collapsed.
func Plan(current, removeSet, addSet []string) ([]string, bool) {
	remove := make(map[string]bool, len(removeSet))
	for _, r := range removeSet {
		remove[r] = true
	}

	final := make([]string, 0, len(current)+len(addSet))
	seen := make(map[string]bool, len(current)+len(addSet))
	for _, r := range current {
		if remove[r] || seen[r] {
			continue
		}
		seen[r] = true
		final = append(final, r)
	}
	for _, r := range addSet {
		if seen[r] {
			continue
		}
		seen[r] = true
		final = append(final, r)
	}

	had := make(map[string]bool, len(current))
	for _, r := range current {
		had[r] = true
	}
	if len(final) != len(had) {
		return final, true
	}
	for _, r := range final {
		if !had[r] {
			return final, true
		}
	}
	return final, false
}
