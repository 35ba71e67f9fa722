package retention

import (
	"sort"
	"strings"
	"time"

	"zotregistry.dev/tagprune/pkg/policy"
	"zotregistry.dev/tagprune/pkg/registry"
)

const day = 24 * time.Hour

// rule evaluators, none of them modifies its input.

// DeleteByCreateTime returns the tags matching the rule pattern which were pushed more than rule.Days ago.
func DeleteByCreateTime(regex *RegexMatcher, inventory []registry.TagRecord, rule policy.DeleteByCreateTime,
	now time.Time,
) []string {
	threshold := now.Add(-time.Duration(rule.Days) * day)
	selected := make([]string, 0)

	for _, record := range inventory {
		if !regex.MatchesAtStart(rule.Regexp, record.Tag) {
			continue
		}

		if record.PushTime.Before(threshold) {
			selected = append(selected, record.Tag)
		}
	}

	return selected
}

// DeleteByTagNameAge orders the matching tags by the date embedded in their name, newest first,
// and returns all of them but the first rule.Limit. Tags without a date in their name are never returned.
func DeleteByTagNameAge(regex *RegexMatcher, tags []string, rule policy.DeleteByTagNameAge) []string {
	dated := getDatedTags(regex.Filter(rule.Regexp, tags))

	sort.SliceStable(dated, func(i, j int) bool {
		if dated[i].date.Equal(dated[j].date) {
			return dated[i].tag > dated[j].tag
		}

		return dated[i].date.After(dated[j].date)
	})

	if rule.Limit <= 0 || rule.Limit >= len(dated) {
		return []string{}
	}

	selected := make([]string, 0, len(dated)-rule.Limit)
	for _, candidate := range dated[rule.Limit:] {
		selected = append(selected, candidate.tag)
	}

	return selected
}

// DeleteByNameRegexp orders the matching tags lexicographically, highest first,
// and returns all of them but the first rule.Limit.
func DeleteByNameRegexp(regex *RegexMatcher, tags []string, rule policy.DeleteByNameRegexp) []string {
	matched := regex.Filter(rule.Regexp, tags)

	sort.Sort(sort.Reverse(sort.StringSlice(matched)))

	if rule.Limit <= 0 || rule.Limit >= len(matched) {
		return []string{}
	}

	return append([]string{}, matched[rule.Limit:]...)
}

// ApplyIgnoreTags returns the candidates not containing any of the rule patterns,
// and for the removed ones the pattern which protected them.
func ApplyIgnoreTags(candidates []string, rule policy.IgnoreTags) ([]string, map[string]string) {
	kept := make([]string, 0, len(candidates))
	protected := make(map[string]string)

	for _, candidate := range candidates {
		if pattern, ok := containsAny(candidate, rule.Tags); ok {
			protected[candidate] = pattern

			continue
		}

		kept = append(kept, candidate)
	}

	return kept, protected
}

// IgnoresRepository reports whether repo contains one of the rule patterns.
func IgnoresRepository(repo string, rule policy.IgnoreRepos) bool {
	_, ok := containsAny(repo, rule.Repos)

	return ok
}

// empty patterns are ignored, they would otherwise match everything.
func containsAny(value string, patterns []string) (string, bool) {
	for _, pattern := range patterns {
		if pattern != "" && strings.Contains(value, pattern) {
			return pattern, true
		}
	}

	return "", false
}
