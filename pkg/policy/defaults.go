package policy

const DefaultPolicyName = "Default Policy"

// ProtectedTags are never deleted whatever the policy says. Unlike IgnoreTags patterns they match whole
// tag names only.
func ProtectedTags() []string {
	return []string{"develop", "latest", "master", "main"}
}

// DefaultPolicies is the policy set used when no policy file is found. Its rules are also appended to
// every loaded policy lacking a rule of the same kind, and provide the limit of count based rules
// declaring none.
func DefaultPolicies() []Policy {
	return []Policy{
		{
			Name: DefaultPolicyName,
			Rules: []Rule{
				DeleteByCreateTime{Regexp: `^(dev|feature|fix|review)[-_/]`, Days: 30},
				DeleteByTagNameAge{Regexp: `^build[-_]`, Limit: 10},
				DeleteByNameRegexp{Regexp: `^v\d+\.\d+\.\d+$`, Limit: 5},
				NewIgnoreTags(""),
				NewIgnoreRepos(""),
			},
		},
	}
}

func DefaultRawPolicies() []RawPolicy {
	defaults := DefaultPolicies()
	raw := make([]RawPolicy, 0, len(defaults))

	for _, policy := range defaults {
		raw = append(raw, ToRaw(policy))
	}

	return raw
}

func defaultRule(kind Kind) (Rule, bool) {
	for _, rule := range DefaultPolicies()[0].Rules {
		if rule.Kind() == kind {
			return rule, true
		}
	}

	return nil, false
}

func defaultLimit(kind Kind) int {
	rule, ok := defaultRule(kind)
	if !ok {
		return 0
	}

	switch rule := rule.(type) {
	case DeleteByTagNameAge:
		return rule.Limit
	case DeleteByNameRegexp:
		return rule.Limit
	default:
		return 0
	}
}
