package errors

import "errors"

var (
	ErrBadConfig             = errors.New("config: invalid config")
	ErrBadPolicyFile         = errors.New("policy: failed to read policy file")
	ErrPolicyValidation      = errors.New("policy: validation failed")
	ErrUnknownRuleType       = errors.New("policy: unknown rule type")
	ErrLegacyRuleUnsupported = errors.New("policy: legacy rule has no equivalent")
	ErrRegistryLookup        = errors.New("registry: lookup failed")
	ErrRegistryDelete        = errors.New("registry: delete failed")
	ErrUnauthorized          = errors.New("registry: unauthorized access")
	ErrRepoNotFound          = errors.New("repository: not found")
	ErrManifestParse         = errors.New("manifest: invalid contents")
	ErrBadDeleteErrorPolicy  = errors.New("cleanup: unknown delete error policy")
	ErrMetricsPush           = errors.New("metrics: push to gateway failed")
)
