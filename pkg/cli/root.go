package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	zerr "zotregistry.dev/tagprune/errors"
	"zotregistry.dev/tagprune/pkg/cleanup"
	zlog "zotregistry.dev/tagprune/pkg/log"
	"zotregistry.dev/tagprune/pkg/manifest"
	"zotregistry.dev/tagprune/pkg/policy"
	"zotregistry.dev/tagprune/pkg/registry/harbor"
	"zotregistry.dev/tagprune/pkg/retention"
)

var (
	Commit    string // nolint: gochecknoglobals
	GoVersion string // nolint: gochecknoglobals
)

const envPrefix = "TAGPRUNE"

type Config struct {
	URL           string   `mapstructure:"url"`
	Username      string   `mapstructure:"username"`
	Password      string   `mapstructure:"password"`
	Project       string   `mapstructure:"project"`
	Repository    string   `mapstructure:"repository"`
	Domain        string   `mapstructure:"domain"`
	PolicyFile    string   `mapstructure:"policy-file"`
	ManifestsDir  string   `mapstructure:"manifests-dir"`
	IgnoreTags    []string `mapstructure:"ignore-tags"`
	IgnoreRepos   []string `mapstructure:"ignore-repos"`
	DryRun        bool     `mapstructure:"dry-run"`
	OnDeleteError string   `mapstructure:"on-delete-error"`
	TLSVerify     bool     `mapstructure:"tls-verify"`
	PageSize      int      `mapstructure:"page-size"`
	LogLevel      string   `mapstructure:"log-level"`
	LogFile       string   `mapstructure:"log-file"`
	Pushgateway   string   `mapstructure:"pushgateway"`
	PrintPolicies bool     `mapstructure:"print-policies"`
	Version       bool     `mapstructure:"version"`
}

// metadataConfig reports metadata after parsing, which we use to track
// errors.
func metadataConfig(md *mapstructure.Metadata) viper.DecoderConfigOption {
	return func(c *mapstructure.DecoderConfig) {
		c.Metadata = md
	}
}

func NewRootCmd() *cobra.Command {
	viperInstance := viper.New()

	rootCmd := &cobra.Command{
		Use:   "tagprune",
		Short: "`tagprune` deletes stale image tags from a Harbor project",
		Long: "`tagprune` applies cleanup policies to the repositories of a Harbor project, " +
			"tags referenced by kustomization files are never deleted",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := LoadConfiguration(viperInstance)
			if err != nil {
				return err
			}

			// Do not show usage on errors which are not related to command line arguments
			cmd.SilenceUsage = true

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return Run(ctx, conf, cmd.OutOrStdout())
		},
	}

	flags := rootCmd.Flags()
	flags.String("url", "", "Harbor url, e.g. https://harbor.example.com")
	flags.String("username", "", "Harbor username")
	flags.String("password", "", "Harbor password, prefer the "+envPrefix+"_PASSWORD environment variable")
	flags.String("project", "", "Harbor project to clean up")
	flags.String("repository", "", "only clean up this repository of the project")
	flags.String("domain", "", "registry host used by images in kustomization files")
	flags.String("policy-file", policy.DefaultPolicyFile, "cleanup policy file")
	flags.String("manifests-dir", ".", "directory searched for kustomization files")
	flags.StringSlice("ignore-tags", nil, "tags never deleted, added to the IgnoreTags rule of every policy")
	flags.StringSlice("ignore-repos", nil, "repositories never cleaned up, added to the IgnoreRepos rule of every policy")
	flags.Bool("dry-run", false, "report the tags which would be deleted without deleting them")
	flags.String("on-delete-error", string(cleanup.AbortOnDeleteError),
		"what to do when a tag can not be deleted: abort or continue")
	flags.Bool("tls-verify", true, "verify the Harbor certificate")
	flags.Int("page-size", harbor.DefaultPageSize, "page size of Harbor list requests")
	flags.String("log-level", "info", "log level")
	flags.String("log-file", "", "append logs to this file instead of stdout")
	flags.String("pushgateway", "", "Prometheus Pushgateway url the run metrics are pushed to")
	flags.Bool("print-policies", false, "print the effective policies and exit")
	flags.BoolP("version", "v", false, "show the version and exit")

	_ = viperInstance.BindPFlags(flags)

	viperInstance.SetEnvPrefix(envPrefix)
	viperInstance.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viperInstance.AutomaticEnv()

	return rootCmd
}

// LoadConfiguration merges flags and TAGPRUNE_* environment variables, flags win.
func LoadConfiguration(viperInstance *viper.Viper) (Config, error) {
	conf := Config{}
	metaData := &mapstructure.Metadata{}

	if err := viperInstance.Unmarshal(&conf, metadataConfig(metaData)); err != nil {
		return conf, fmt.Errorf("%w: %w", zerr.ErrBadConfig, err)
	}

	if len(metaData.Unused) > 0 {
		return conf, fmt.Errorf("%w: unknown settings %v", zerr.ErrBadConfig, metaData.Unused)
	}

	if conf.Version || conf.PrintPolicies {
		return conf, nil
	}

	missing := []string{}

	for flag, value := range map[string]string{"url": conf.URL, "project": conf.Project, "domain": conf.Domain} {
		if value == "" {
			missing = append(missing, "--"+flag)
		}
	}

	if len(missing) > 0 {
		sort.Strings(missing)

		return conf, fmt.Errorf("%w: missing required flags %s", zerr.ErrBadConfig, strings.Join(missing, ", "))
	}

	return conf, nil
}

// Run executes one cleanup: policies are validated before anything is requested from Harbor,
// then manifests are scanned, then tags are deleted.
func Run(ctx context.Context, conf Config, out io.Writer) error {
	logger, err := zlog.NewLogger(conf.LogLevel, conf.LogFile)
	if err != nil {
		return fmt.Errorf("%w: %w", zerr.ErrBadConfig, err)
	}

	if conf.Version {
		logger.Info().Str("commit", Commit).Str("go version", GoVersion).Msg("version")

		return nil
	}

	onDeleteError, err := cleanup.ParseDeleteErrorPolicy(conf.OnDeleteError)
	if err != nil {
		logger.Error().Err(err).Msg("invalid configuration")

		return err
	}

	policies, err := policy.LoadPolicies(conf.PolicyFile, policy.Overrides{
		IgnoreTags:  conf.IgnoreTags,
		IgnoreRepos: conf.IgnoreRepos,
	}, logger)
	if err != nil {
		logger.Error().Err(err).Str("policy-file", conf.PolicyFile).Msg("failed to load policies")

		return err
	}

	if conf.PrintPolicies {
		return printPolicies(out, policies)
	}

	for _, pol := range policies {
		rules := make([]string, 0, len(pol.Rules))
		for _, rule := range pol.Rules {
			rules = append(rules, rule.Name())
		}

		logger.Info().Str("policy", pol.Name).Strs("rules", rules).Msg("loaded policy")
	}

	referenced, err := manifest.ScanDirectory(conf.ManifestsDir, conf.Domain, logger)
	if err != nil {
		logger.Error().Err(err).Str("manifests-dir", conf.ManifestsDir).Msg("failed to scan manifests")

		return err
	}

	client, err := harbor.NewClient(harbor.Config{
		URL:       conf.URL,
		Project:   conf.Project,
		Username:  conf.Username,
		Password:  conf.Password,
		TLSVerify: conf.TLSVerify,
		PageSize:  conf.PageSize,
	}, logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to create harbor client")

		return err
	}

	engine := retention.NewEngine(logger).WithDryRun(conf.DryRun)
	cleaner := cleanup.NewCleaner(client, engine, cleanup.NewMetrics(), logger)

	report, runErr := cleaner.Run(ctx, policies, referenced, cleanup.Options{
		Repository:    conf.Repository,
		DryRun:        conf.DryRun,
		OnDeleteError: onDeleteError,
	})
	if runErr != nil {
		logger.Error().Err(runErr).Str("project", conf.Project).Msg("cleanup failed")
	}

	report.Print(out)

	if conf.Pushgateway != "" {
		if err := cleaner.Metrics().Push(ctx, conf.Pushgateway); err != nil {
			logger.Error().Err(err).Msg("failed to push metrics")

			if runErr == nil {
				runErr = err
			}
		}
	}

	return runErr
}

func printPolicies(out io.Writer, policies []policy.Policy) error {
	raws := make([]policy.RawPolicy, 0, len(policies))
	for _, pol := range policies {
		raws = append(raws, policy.ToRaw(pol))
	}

	encoder := yaml.NewEncoder(out)
	encoder.SetIndent(2)

	if err := encoder.Encode(map[string]any{"policies": raws}); err != nil {
		return err
	}

	return encoder.Close()
}
