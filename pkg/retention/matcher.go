package retention

import "regexp"

// RegexMatcher matches tag names against policy patterns. A pattern matches when it matches at the start
// of the name, it doesn't need to consume the whole name.
type RegexMatcher struct {
	compiled map[string]*regexp.Regexp
}

func NewRegexMatcher() *RegexMatcher {
	return &RegexMatcher{
		make(map[string]*regexp.Regexp, 0),
	}
}

func (r *RegexMatcher) MatchesAtStart(pattern, name string) bool {
	if tagReg, ok := r.compiled[pattern]; ok {
		return tagReg.MatchString(name)
	}

	// all are compilable because they are checked when policies are loaded
	tagReg, err := regexp.Compile(`^(?:` + pattern + `)`)
	if err != nil {
		return false
	}

	r.compiled[pattern] = tagReg

	return tagReg.MatchString(name)
}

// Filter returns the names matching pattern, order preserved.
func (r *RegexMatcher) Filter(pattern string, names []string) []string {
	matched := make([]string, 0, len(names))

	for _, name := range names {
		if r.MatchesAtStart(pattern, name) {
			matched = append(matched, name)
		}
	}

	return matched
}
