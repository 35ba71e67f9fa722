package policy

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cast"
	"github.com/spf13/viper"

	zerr "zotregistry.dev/tagprune/errors"
	zlog "zotregistry.dev/tagprune/pkg/log"
)

const (
	DefaultPolicyFile = ".harbor_cleanup_policy.yaml"

	policiesKey = "policies"
)

// Load reads the raw policies from path. The default policies are returned when path is empty, does not
// exist or has no 'policies' key.
func Load(path string, log zlog.Logger) ([]RawPolicy, error) {
	if path == "" {
		log.Info().Str("module", "policy").Msg("no policy file given, using default policies")

		return DefaultRawPolicies(), nil
	}

	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		log.Info().Str("module", "policy").Str("path", path).Msg("policy file not found, using default policies")

		return DefaultRawPolicies(), nil
	}

	viperInstance := viper.New()
	viperInstance.SetConfigFile(path)
	viperInstance.SetConfigType(configType(path))

	if err := viperInstance.ReadInConfig(); err != nil {
		log.Error().Err(err).Str("module", "policy").Str("path", path).Msg("failed to read policy file")

		return nil, fmt.Errorf("%w: %s: %w", zerr.ErrBadPolicyFile, path, err)
	}

	if !viperInstance.IsSet(policiesKey) {
		log.Info().Str("module", "policy").Str("path", path).
			Msg("policy file has no 'policies' key, using default policies")

		return DefaultRawPolicies(), nil
	}

	items, ok := viperInstance.Get(policiesKey).([]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s: 'policies' must be a sequence", zerr.ErrBadPolicyFile, path)
	}

	policies := make([]RawPolicy, 0, len(items))

	for idx, item := range items {
		fields, err := cast.ToStringMapE(item)
		if err != nil {
			return nil, &ValidationError{Policy: fmt.Sprintf("#%d", idx), Rule: policyLevel, Reason: "policy must be a mapping"}
		}

		policies = append(policies, RawPolicy(fields))
	}

	return policies, nil
}

// configType picks the viper decoder of a policy file, json documents and unknown extensions are read
// as yaml.
func configType(path string) string {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return "toml"
	}

	return "yaml"
}

// LoadPolicies loads, validates and completes every policy of path, no policy is returned unless all of
// them are valid.
func LoadPolicies(path string, overrides Overrides, log zlog.Logger) ([]Policy, error) {
	raw, err := Load(path, log)
	if err != nil {
		return nil, err
	}

	policies := make([]Policy, 0, len(raw))

	for _, rawPolicy := range raw {
		policy, err := Validate(rawPolicy, log)
		if err != nil {
			log.Error().Err(err).Str("module", "policy").Interface("policy", rawPolicy["name"]).
				Msg("policy is not valid")

			return nil, err
		}

		policies = append(policies, policy)
	}

	return MergeDefaults(policies, overrides), nil
}
