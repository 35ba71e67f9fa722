package policy

import (
	"errors"
	"fmt"
	"regexp"
	"sort"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/cast"

	zerr "zotregistry.dev/tagprune/errors"
	zlog "zotregistry.dev/tagprune/pkg/log"
)

const policyLevel = -1

// ValidationError reports the first invalid field found in a policy.
type ValidationError struct {
	Policy string
	Rule   int // index in the policy rules, -1 for policy level fields
	Field  string
	Reason string
	Err    error // more specific cause, optional
}

func (e *ValidationError) Error() string {
	where := fmt.Sprintf("policy %q", e.Policy)
	if e.Rule != policyLevel {
		where += fmt.Sprintf(", rule #%d", e.Rule)
	}

	if e.Field != "" {
		where += fmt.Sprintf(", field %q", e.Field)
	}

	msg := fmt.Sprintf("%s: %s: %s", zerr.ErrPolicyValidation, where, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}

	return msg
}

func (e *ValidationError) Unwrap() []error {
	if e.Err == nil {
		return []error{zerr.ErrPolicyValidation}
	}

	return []error{zerr.ErrPolicyValidation, e.Err}
}

// ruleSpec holds every field a rule may declare, kind specific requirements are checked after decoding.
type ruleSpec struct {
	Type   string   `mapstructure:"type"`
	Name   string   `mapstructure:"name"`
	Regexp *string  `mapstructure:"regexp"`
	Days   *int     `mapstructure:"days"`
	Limit  *int     `mapstructure:"limit"`
	Tags   []string `mapstructure:"tags"`
	Repos  []string `mapstructure:"repos"`
}

// Validate checks raw and returns the typed policy it describes, raw itself is left untouched.
// Missing limits of count based rules are filled in from the default policy.
func Validate(raw RawPolicy, log zlog.Logger) (Policy, error) {
	nameValue, ok := raw["name"]
	if !ok {
		return Policy{}, &ValidationError{Rule: policyLevel, Field: "name", Reason: "missing field"}
	}

	name, ok := nameValue.(string)
	if !ok || name == "" {
		return Policy{}, &ValidationError{Rule: policyLevel, Field: "name", Reason: "must be a non empty string"}
	}

	rulesValue, ok := raw["rules"]
	if !ok {
		return Policy{}, &ValidationError{Policy: name, Rule: policyLevel, Field: "rules", Reason: "missing field"}
	}

	rawRules, ok := rulesValue.([]any)
	if !ok {
		return Policy{}, &ValidationError{Policy: name, Rule: policyLevel, Field: "rules", Reason: "must be a sequence"}
	}

	policy := Policy{Name: name, Rules: make([]Rule, 0, len(rawRules))}

	for idx, rawRule := range rawRules {
		rule, err := validateRule(name, idx, rawRule, log)
		if err != nil {
			return Policy{}, err
		}

		policy.Rules = append(policy.Rules, rule)
	}

	return policy, nil
}

func validateRule(policyName string, idx int, rawRule any, log zlog.Logger) (Rule, error) {
	fail := func(field, reason string, cause error) error {
		return &ValidationError{Policy: policyName, Rule: idx, Field: field, Reason: reason, Err: cause}
	}

	fields, err := cast.ToStringMapE(rawRule)
	if err != nil {
		return nil, fail("", "rule must be a mapping", nil)
	}

	if isLegacyRule(fields) {
		translated, err := translateLegacyRule(fields)
		if err != nil {
			return nil, fail("rule", "failed to translate legacy rule", err)
		}

		log.Warn().Str("module", "policy").Str("policy", policyName).Int("rule", idx).
			Interface("legacy", fields["rule"]).Interface("type", translated["type"]).
			Msg("translated legacy rule, update the policy file to the 'type' vocabulary")

		fields = translated
	}

	typeValue, ok := fields["type"]
	if !ok {
		return nil, fail("type", "missing field", nil)
	}

	typeName, ok := typeValue.(string)
	if !ok {
		return nil, fail("type", "must be a string", nil)
	}

	kind, ok := ParseKind(typeName)
	if !ok {
		return nil, fail("type", typeName, zerr.ErrUnknownRuleType)
	}

	for _, field := range []string{"days", "limit"} {
		if value, ok := fields[field]; ok && !isInteger(value) {
			return nil, fail(field, fmt.Sprintf("must be an integer, got %T", value), nil)
		}
	}

	spec := ruleSpec{}
	metaData := &mapstructure.Metadata{}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Metadata: metaData,
		Result:   &spec,
	})
	if err != nil {
		return nil, fail("", "failed to create decoder", err)
	}

	if err := decoder.Decode(fields); err != nil {
		return nil, fail("", "failed to decode rule", err)
	}

	if len(metaData.Unused) > 0 {
		sort.Strings(metaData.Unused)

		return nil, fail(metaData.Unused[0], "unknown field", nil)
	}

	switch kind {
	case KindDeleteByCreateTime:
		if spec.Days == nil {
			return nil, fail("days", "missing field", nil)
		}

		pattern, err := requireRegexp(spec)
		if err != nil {
			return nil, fail("regexp", err.Error(), nil)
		}

		if *spec.Days < 1 {
			return nil, fail("days", "must be at least 1", nil)
		}

		return DeleteByCreateTime{Label: spec.Name, Regexp: pattern, Days: *spec.Days}, nil
	case KindDeleteByTagNameAge, KindDeleteByNameRegexp:
		pattern, err := requireRegexp(spec)
		if err != nil {
			return nil, fail("regexp", err.Error(), nil)
		}

		limit := defaultLimit(kind)
		if spec.Limit != nil {
			limit = *spec.Limit
		}

		if limit < 1 {
			return nil, fail("limit", "must be at least 1", nil)
		}

		if kind == KindDeleteByTagNameAge {
			return DeleteByTagNameAge{Label: spec.Name, Regexp: pattern, Limit: limit}, nil
		}

		return DeleteByNameRegexp{Label: spec.Name, Regexp: pattern, Limit: limit}, nil
	case KindIgnoreTags:
		if _, ok := fields["tags"]; !ok {
			return nil, fail("tags", "missing field", nil)
		}

		return NewIgnoreTags(spec.Name, spec.Tags...), nil
	case KindIgnoreRepos:
		if _, ok := fields["repos"]; !ok {
			return nil, fail("repos", "missing field", nil)
		}

		return NewIgnoreRepos(spec.Name, spec.Repos...), nil
	}

	return nil, fail("type", typeName, zerr.ErrUnknownRuleType)
}

var errMissingRegexp = errors.New("missing field")

func requireRegexp(spec ruleSpec) (string, error) {
	if spec.Regexp == nil {
		return "", errMissingRegexp
	}

	if _, err := regexp.Compile(*spec.Regexp); err != nil {
		return "", fmt.Errorf("could not be compiled: %w", err)
	}

	return *spec.Regexp, nil
}

func isInteger(value any) bool {
	switch value.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return true
	default:
		return false
	}
}
