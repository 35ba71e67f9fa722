package policy

import (
	"errors"
	"fmt"

	zerr "zotregistry.dev/tagprune/errors"
)

// Policy files written for the first version of the tool keyed rules with 'rule' and used the
// SaveLastN*/DeleteOlderThan vocabulary.
const (
	legacyDeleteOlderThan      = "DeleteOlderThan"
	legacySaveLastNTags        = "SaveLastNTags"
	legacySaveLastNProdTags    = "SaveLastNProdTags"
	legacySaveLastNStagingTags = "SaveLastNStagingTags"
	legacySaveLastNFeatureTags = "SaveLastNFeatureTags"
	legacyIgnoreTags           = "IgnoreTags"

	matchAllRegexp = ".*"
)

var errTypeAndRule = errors.New("rule declares both 'type' and 'rule'")

func isLegacyRule(fields map[string]any) bool {
	_, ok := fields["rule"]

	return ok
}

// translateLegacyRule maps a 'rule' keyed entry to the equivalent 'type' keyed entry. Entries whose
// meaning can not be expressed with the current rules are rejected.
func translateLegacyRule(fields map[string]any) (map[string]any, error) {
	if _, ok := fields["type"]; ok {
		return nil, errTypeAndRule
	}

	name, ok := fields["rule"].(string)
	if !ok {
		return nil, fmt.Errorf("%w: 'rule' must be a string", zerr.ErrUnknownRuleType)
	}

	translated := make(map[string]any, len(fields))

	for key, value := range fields {
		if key != "rule" {
			translated[key] = value
		}
	}

	switch name {
	case legacyDeleteOlderThan:
		translated["type"] = string(KindDeleteByCreateTime)
		if _, ok := translated["regexp"]; !ok {
			translated["regexp"] = matchAllRegexp
		}
	case legacySaveLastNTags, legacySaveLastNProdTags, legacySaveLastNStagingTags:
		translated["type"] = string(KindDeleteByNameRegexp)
	case legacyIgnoreTags:
		translated["type"] = string(KindIgnoreTags)
	case legacySaveLastNFeatureTags:
		return nil, fmt.Errorf("%w: %s selects tags by not matching other rules, "+
			"replace it with a DeleteByNameRegexp or DeleteByCreateTime rule", zerr.ErrLegacyRuleUnsupported, name)
	default:
		return nil, fmt.Errorf("%w: %s", zerr.ErrUnknownRuleType, name)
	}

	return translated, nil
}
