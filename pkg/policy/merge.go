package policy

import "zotregistry.dev/tagprune/pkg/common"

// Overrides are extra ignore patterns given on the command line.
type Overrides struct {
	IgnoreTags  []string
	IgnoreRepos []string
}

// MergeDefaults returns new policies where every rule kind of the default policy missing from a policy
// is appended, then the first IgnoreTags/IgnoreRepos rule is extended with the overrides.
func MergeDefaults(policies []Policy, overrides Overrides) []Policy {
	defaults := DefaultPolicies()[0].Rules
	merged := make([]Policy, 0, len(policies))

	for _, policy := range policies {
		rules := make([]Rule, 0, len(policy.Rules)+len(defaults))
		rules = append(rules, policy.Rules...)

		for _, defaultRule := range defaults {
			if !policy.HasKind(defaultRule.Kind()) {
				rules = append(rules, defaultRule)
			}
		}

		rules = extendIgnoreTags(rules, overrides.IgnoreTags)
		rules = extendIgnoreRepos(rules, overrides.IgnoreRepos)

		merged = append(merged, Policy{Name: policy.Name, Rules: rules})
	}

	return merged
}

func extendIgnoreTags(rules []Rule, extra []string) []Rule {
	if len(extra) == 0 {
		return rules
	}

	for idx, rule := range rules {
		if ignore, ok := rule.(IgnoreTags); ok {
			rules[idx] = NewIgnoreTags(ignore.Label, appendMissing(ignore.Tags, extra)...)

			return rules
		}
	}

	return append(rules, NewIgnoreTags("", appendMissing(nil, extra)...))
}

func extendIgnoreRepos(rules []Rule, extra []string) []Rule {
	if len(extra) == 0 {
		return rules
	}

	for idx, rule := range rules {
		if ignore, ok := rule.(IgnoreRepos); ok {
			rules[idx] = NewIgnoreRepos(ignore.Label, appendMissing(ignore.Repos, extra)...)

			return rules
		}
	}

	return append(rules, NewIgnoreRepos("", appendMissing(nil, extra)...))
}

func appendMissing(values, extra []string) []string {
	result := append([]string{}, values...)

	for _, value := range extra {
		if !common.Contains(result, value) {
			result = append(result, value)
		}
	}

	return result
}
