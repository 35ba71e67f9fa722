package policy

// rawEncoder turns typed rules back into the policy file representation.
type rawEncoder struct {
	out map[string]any
}

func (e *rawEncoder) VisitDeleteByCreateTime(rule DeleteByCreateTime) {
	e.out = map[string]any{"type": string(rule.Kind()), "regexp": rule.Regexp, "days": rule.Days}
	e.label(rule.Label)
}

func (e *rawEncoder) VisitDeleteByTagNameAge(rule DeleteByTagNameAge) {
	e.out = map[string]any{"type": string(rule.Kind()), "regexp": rule.Regexp, "limit": rule.Limit}
	e.label(rule.Label)
}

func (e *rawEncoder) VisitDeleteByNameRegexp(rule DeleteByNameRegexp) {
	e.out = map[string]any{"type": string(rule.Kind()), "regexp": rule.Regexp, "limit": rule.Limit}
	e.label(rule.Label)
}

func (e *rawEncoder) VisitIgnoreTags(rule IgnoreTags) {
	e.out = map[string]any{"type": string(rule.Kind()), "tags": toAnySlice(rule.Tags)}
	e.label(rule.Label)
}

func (e *rawEncoder) VisitIgnoreRepos(rule IgnoreRepos) {
	e.out = map[string]any{"type": string(rule.Kind()), "repos": toAnySlice(rule.Repos)}
	e.label(rule.Label)
}

func (e *rawEncoder) label(label string) {
	if label != "" {
		e.out["name"] = label
	}
}

func ToRaw(policy Policy) RawPolicy {
	rules := make([]any, 0, len(policy.Rules))

	for _, rule := range policy.Rules {
		encoder := &rawEncoder{}
		rule.Accept(encoder)
		rules = append(rules, encoder.out)
	}

	return RawPolicy{"name": policy.Name, "rules": rules}
}

func toAnySlice(values []string) []any {
	result := make([]any, 0, len(values))
	for _, v := range values {
		result = append(result, v)
	}

	return result
}
