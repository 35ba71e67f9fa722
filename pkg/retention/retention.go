package retention

import (
	"fmt"
	"sort"
	"time"

	"zotregistry.dev/tagprune/pkg/common"
	zlog "zotregistry.dev/tagprune/pkg/log"
	"zotregistry.dev/tagprune/pkg/policy"
	"zotregistry.dev/tagprune/pkg/registry"
	"zotregistry.dev/tagprune/pkg/retention/types"
)

const (
	// reasons for keeping a selected tag.
	protectedStrFormat = "protected by %s policy, contains %q"
	alwaysKeptReason   = "protected tag name"
	referencedReason   = "referenced by deployment manifests"
	// reasons for deletion.
	selectedStrFormat = "selected by %v"
)

type Engine struct {
	regex  *RegexMatcher
	log    zlog.Logger
	now    func() time.Time
	dryRun bool
}

func NewEngine(log zlog.Logger) *Engine {
	return &Engine{
		regex: NewRegexMatcher(),
		log:   log,
		now:   time.Now,
	}
}

// WithClock returns a copy of the engine reading the current time from now.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	engine := *e
	engine.now = now

	return &engine
}

// WithDryRun only changes the dry-run field of decision logs.
func (e *Engine) WithDryRun(dryRun bool) *Engine {
	engine := *e
	engine.dryRun = dryRun

	return &engine
}

func (e *Engine) Now() time.Time {
	return e.now()
}

// SkipsRepository returns true and the matching rule name if one of the policy IgnoreRepos rules matches repo.
func (e *Engine) SkipsRepository(repo string, pol policy.Policy) (bool, string) {
	for _, rule := range pol.Rules {
		ignoreRepos, ok := rule.(policy.IgnoreRepos)
		if !ok {
			continue
		}

		if IgnoresRepository(repo, ignoreRepos) {
			return true, ignoreRepos.Name()
		}
	}

	return false, ""
}

// SelectTagsToDelete applies pol to the tags of repo. The union of what the selection rules pick
// from the whole inventory is filtered by every IgnoreTags rule and by policy.ProtectedTags, then tags
// referenced by manifests are removed.
func (e *Engine) SelectTagsToDelete(repo string, inventory []registry.TagRecord,
	referenced types.ReferenceChecker, pol policy.Policy,
) types.Decision {
	decision := types.Decision{
		Policy:     pol.Name,
		Repository: repo,
		Delete:     []string{},
		SelectedBy: map[string][]string{},
		Protected:  map[string]string{},
	}

	if skip, ruleName := e.SkipsRepository(repo, pol); skip {
		e.log.Info().Str("module", "retention").
			Bool("dry-run", e.dryRun).
			Str("policy", pol.Name).
			Str("repository", repo).
			Str("decision", "skip").
			Str("reason", fmt.Sprintf("ignored by %s policy", ruleName)).Msg("applied policy")

		decision.Skipped = true
		decision.SkippedBy = ruleName

		return decision
	}

	if referenced != nil {
		e.log.Debug().Str("module", "retention").
			Str("policy", pol.Name).
			Str("repository", repo).
			Strs("tags", referenced.TagsFor(repo)).Msg("tags referenced by manifests")
	}

	selector := &ruleSelector{
		regex:      e.regex,
		inventory:  inventory,
		tags:       registry.TagNames(inventory),
		now:        e.now(),
		selectedBy: map[string][]string{},
	}

	for _, rule := range pol.Rules {
		rule.Accept(selector)
	}

	for _, contribution := range selector.contributions {
		e.log.Debug().Str("module", "retention").
			Str("policy", pol.Name).
			Str("repository", repo).
			Str("rule", contribution.rule).
			Strs("tags", contribution.tags).Msg("rule selected tags")
	}

	candidates := common.SortedUnique(mapKeys(selector.selectedBy))

	for _, ignoreTags := range selector.ignoreTags {
		var protected map[string]string

		candidates, protected = ApplyIgnoreTags(candidates, ignoreTags)

		for tag, pattern := range protected {
			decision.Protected[tag] = fmt.Sprintf(protectedStrFormat, ignoreTags.Name(), pattern)
		}
	}

	protectedTags := policy.ProtectedTags()

	for _, tag := range candidates {
		if common.Contains(protectedTags, tag) {
			decision.Protected[tag] = alwaysKeptReason

			continue
		}

		if referenced != nil && referenced.Contains(repo, tag) {
			decision.Protected[tag] = referencedReason

			continue
		}

		decision.Delete = append(decision.Delete, tag)
		decision.SelectedBy[tag] = selector.selectedBy[tag]
	}

	for _, tag := range common.SortedUnique(mapKeys(decision.Protected)) {
		logAction(repo, pol.Name, tag, "keep", decision.Protected[tag], e.dryRun, e.log)
	}

	for _, tag := range decision.Delete {
		logAction(repo, pol.Name, tag, "delete", fmt.Sprintf(selectedStrFormat, decision.SelectedBy[tag]),
			e.dryRun, e.log)
	}

	return decision
}

type contribution struct {
	rule string
	tags []string
}

// ruleSelector runs the selection rules of a policy and collects its IgnoreTags rules.
type ruleSelector struct {
	regex     *RegexMatcher
	inventory []registry.TagRecord
	tags      []string
	now       time.Time

	selectedBy    map[string][]string
	contributions []contribution
	ignoreTags    []policy.IgnoreTags
}

func (s *ruleSelector) add(ruleName string, tags []string) {
	for _, tag := range tags {
		if !common.Contains(s.selectedBy[tag], ruleName) {
			s.selectedBy[tag] = append(s.selectedBy[tag], ruleName)
		}
	}

	s.contributions = append(s.contributions, contribution{rule: ruleName, tags: tags})
}

func (s *ruleSelector) VisitDeleteByCreateTime(rule policy.DeleteByCreateTime) {
	s.add(rule.Name(), DeleteByCreateTime(s.regex, s.inventory, rule, s.now))
}

func (s *ruleSelector) VisitDeleteByTagNameAge(rule policy.DeleteByTagNameAge) {
	s.add(rule.Name(), DeleteByTagNameAge(s.regex, s.tags, rule))
}

func (s *ruleSelector) VisitDeleteByNameRegexp(rule policy.DeleteByNameRegexp) {
	s.add(rule.Name(), DeleteByNameRegexp(s.regex, s.tags, rule))
}

func (s *ruleSelector) VisitIgnoreTags(rule policy.IgnoreTags) {
	s.ignoreTags = append(s.ignoreTags, rule)
}

// handled by SkipsRepository before any rule runs.
func (s *ruleSelector) VisitIgnoreRepos(policy.IgnoreRepos) {}

func logAction(repo, policyName, tag, decision, reason string, dryRun bool, log zlog.Logger) {
	log.Info().Str("module", "retention").
		Bool("dry-run", dryRun).
		Str("policy", policyName).
		Str("repository", repo).
		Str("tag", tag).
		Str("decision", decision).
		Str("reason", reason).Msg("applied policy")
}

func mapKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}

	sort.Strings(keys)

	return keys
}
