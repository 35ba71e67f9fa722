package policy

import (
	"fmt"
	"strings"
)

type Kind string

const (
	KindDeleteByCreateTime Kind = "DeleteByCreateTime"
	KindDeleteByTagNameAge Kind = "DeleteByTagNameAge"
	KindDeleteByNameRegexp Kind = "DeleteByNameRegexp"
	KindIgnoreTags         Kind = "IgnoreTags"
	KindIgnoreRepos        Kind = "IgnoreRepos"
)

// aliases used by older policy files for the same rules.
//
//nolint:gochecknoglobals
var kindAliases = map[string]Kind{
	"DeleteByTimeInName": KindDeleteByTagNameAge,
	"DeleteByTagName":    KindDeleteByNameRegexp,
}

func ParseKind(name string) (Kind, bool) {
	switch kind := Kind(name); kind {
	case KindDeleteByCreateTime, KindDeleteByTagNameAge, KindDeleteByNameRegexp, KindIgnoreTags, KindIgnoreRepos:
		return kind, true
	}

	kind, ok := kindAliases[name]

	return kind, ok
}

// Rule is one of DeleteByCreateTime, DeleteByTagNameAge, DeleteByNameRegexp, IgnoreTags or IgnoreRepos.
// The set is closed: RuleVisitor must handle every kind.
type Rule interface {
	Kind() Kind
	Name() string
	Accept(visitor RuleVisitor)

	isRule()
}

type RuleVisitor interface {
	VisitDeleteByCreateTime(rule DeleteByCreateTime)
	VisitDeleteByTagNameAge(rule DeleteByTagNameAge)
	VisitDeleteByNameRegexp(rule DeleteByNameRegexp)
	VisitIgnoreTags(rule IgnoreTags)
	VisitIgnoreRepos(rule IgnoreRepos)
}

// DeleteByCreateTime selects tags matching Regexp pushed more than Days days ago.
type DeleteByCreateTime struct {
	Label  string
	Regexp string
	Days   int
}

func (r DeleteByCreateTime) Kind() Kind { return KindDeleteByCreateTime }

func (r DeleteByCreateTime) Name() string {
	if r.Label != "" {
		return r.Label
	}

	return fmt.Sprintf("%s:%s:%d", r.Kind(), r.Regexp, r.Days)
}

func (r DeleteByCreateTime) Accept(visitor RuleVisitor) { visitor.VisitDeleteByCreateTime(r) }

func (DeleteByCreateTime) isRule() {}

// DeleteByTagNameAge keeps the Limit matching tags with the most recent date embedded in their name.
type DeleteByTagNameAge struct {
	Label  string
	Regexp string
	Limit  int
}

func (r DeleteByTagNameAge) Kind() Kind { return KindDeleteByTagNameAge }

func (r DeleteByTagNameAge) Name() string {
	if r.Label != "" {
		return r.Label
	}

	return fmt.Sprintf("%s:%s:%d", r.Kind(), r.Regexp, r.Limit)
}

func (r DeleteByTagNameAge) Accept(visitor RuleVisitor) { visitor.VisitDeleteByTagNameAge(r) }

func (DeleteByTagNameAge) isRule() {}

// DeleteByNameRegexp keeps the Limit lexicographically greatest matching tags.
type DeleteByNameRegexp struct {
	Label  string
	Regexp string
	Limit  int
}

func (r DeleteByNameRegexp) Kind() Kind { return KindDeleteByNameRegexp }

func (r DeleteByNameRegexp) Name() string {
	if r.Label != "" {
		return r.Label
	}

	return fmt.Sprintf("%s:%s:%d", r.Kind(), r.Regexp, r.Limit)
}

func (r DeleteByNameRegexp) Accept(visitor RuleVisitor) { visitor.VisitDeleteByNameRegexp(r) }

func (DeleteByNameRegexp) isRule() {}

// IgnoreTags protects every candidate containing one of Tags.
type IgnoreTags struct {
	Label string
	Tags  []string
}

func NewIgnoreTags(label string, tags ...string) IgnoreTags {
	return IgnoreTags{Label: label, Tags: append([]string{}, tags...)}
}

func (r IgnoreTags) Kind() Kind { return KindIgnoreTags }

func (r IgnoreTags) Name() string {
	if r.Label != "" {
		return r.Label
	}

	return fmt.Sprintf("%s:%s", r.Kind(), strings.Join(r.Tags, ","))
}

func (r IgnoreTags) Accept(visitor RuleVisitor) { visitor.VisitIgnoreTags(r) }

func (IgnoreTags) isRule() {}

// IgnoreRepos skips every repository whose name contains one of Repos.
type IgnoreRepos struct {
	Label string
	Repos []string
}

func NewIgnoreRepos(label string, repos ...string) IgnoreRepos {
	return IgnoreRepos{Label: label, Repos: append([]string{}, repos...)}
}

func (r IgnoreRepos) Kind() Kind { return KindIgnoreRepos }

func (r IgnoreRepos) Name() string {
	if r.Label != "" {
		return r.Label
	}

	return fmt.Sprintf("%s:%s", r.Kind(), strings.Join(r.Repos, ","))
}

func (r IgnoreRepos) Accept(visitor RuleVisitor) { visitor.VisitIgnoreRepos(r) }

func (IgnoreRepos) isRule() {}

type Policy struct {
	Name  string
	Rules []Rule
}

func (p Policy) HasKind(kind Kind) bool {
	for _, rule := range p.Rules {
		if rule.Kind() == kind {
			return true
		}
	}

	return false
}

// RawPolicy is a policy document as decoded from the policy file, before validation.
type RawPolicy map[string]any
