package cleanup

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	zerr "zotregistry.dev/tagprune/errors"
	"zotregistry.dev/tagprune/pkg/common"
	zlog "zotregistry.dev/tagprune/pkg/log"
	"zotregistry.dev/tagprune/pkg/policy"
	"zotregistry.dev/tagprune/pkg/registry"
	"zotregistry.dev/tagprune/pkg/retention/types"
)

// Cleaner applies policies to the repositories of a registry, one repository at a time.
type Cleaner struct {
	registry registry.Client
	selector types.TagSelector
	metrics  *Metrics
	log      zlog.Logger
}

func NewCleaner(client registry.Client, selector types.TagSelector, metrics *Metrics, log zlog.Logger) *Cleaner {
	if metrics == nil {
		metrics = NewMetrics()
	}

	return &Cleaner{
		registry: client,
		selector: selector,
		metrics:  metrics,
		log:      log,
	}
}

func (c *Cleaner) Metrics() *Metrics {
	return c.metrics
}

// Run builds the deletion plan of every policy and executes it before moving to the next policy.
// Nothing is deleted when the requested repository doesn't exist.
func (c *Cleaner) Run(ctx context.Context, policies []policy.Policy, referenced types.ReferenceChecker,
	opts Options,
) (Report, error) {
	report := Report{DryRun: opts.DryRun, GeneratedAt: c.selector.Now()}

	onDeleteError := opts.OnDeleteError
	if onDeleteError == "" {
		onDeleteError = AbortOnDeleteError
	}

	repos, err := c.registry.ListRepositories(ctx)
	if err != nil {
		return report, err
	}

	if opts.Repository != "" {
		repo, ok := findRepository(repos, opts.Repository)
		if !ok {
			c.log.Error().Str("module", "cleanup").Str("repository", opts.Repository).Strs("repositories", repos).
				Msg("requested repository not found")

			return report, fmt.Errorf("%w: %s", zerr.ErrRepoNotFound, opts.Repository)
		}

		repos = []string{repo}
	}

	var deleteErrors []error

	for _, pol := range policies {
		plan, err := c.buildPlan(ctx, pol, repos, referenced, &report)
		if err != nil {
			return report, err
		}

		errs, err := c.executePlan(ctx, &plan, opts.DryRun, onDeleteError, &report)
		report.Plans = append(report.Plans, plan)
		deleteErrors = append(deleteErrors, errs...)

		if err != nil {
			return report, err
		}
	}

	c.metrics.lastRun.SetToCurrentTime()

	c.log.Info().Str("module", "cleanup").Bool("dry-run", opts.DryRun).
		Int("selected", report.Selected).Int("deleted", report.Deleted).Int("failed", report.Failed).
		Int("skipped", report.Skipped).Msg("cleanup finished")

	if len(deleteErrors) > 0 {
		return report, fmt.Errorf("%w: %d tags could not be deleted: %w", zerr.ErrRegistryDelete,
			len(deleteErrors), errors.Join(deleteErrors...))
	}

	return report, nil
}

func (c *Cleaner) buildPlan(ctx context.Context, pol policy.Policy, repos []string,
	referenced types.ReferenceChecker, report *Report,
) (Plan, error) {
	plan := Plan{Policy: pol.Name, Items: []PlanItem{}}

	for _, repo := range repos {
		if common.IsContextDone(ctx) {
			return plan, ctx.Err()
		}

		// ignored repositories are not listed at all
		if skip, rule := c.selector.SkipsRepository(repo, pol); skip {
			plan.Skipped = append(plan.Skipped, SkippedRepository{Repository: repo, Rule: rule})
			report.Skipped++
			c.metrics.skipped.WithLabelValues(pol.Name).Inc()

			c.log.Info().Str("module", "cleanup").Str("policy", pol.Name).Str("repository", repo).
				Str("rule", rule).Msg("skipping ignored repository")

			continue
		}

		inventory, err := c.registry.ListTags(ctx, repo)
		if err != nil {
			return plan, err
		}

		decision := c.selector.SelectTagsToDelete(repo, inventory, referenced, pol)

		pushTimes := make(map[string]time.Time, len(inventory))
		for _, record := range inventory {
			pushTimes[record.Tag] = record.PushTime
		}

		for _, tag := range decision.Delete {
			plan.Items = append(plan.Items, PlanItem{
				Policy:     pol.Name,
				Repository: repo,
				Tag:        tag,
				PushTime:   pushTimes[tag],
				SelectedBy: decision.SelectedBy[tag],
				Status:     StatusPlanned,
			})
		}

		report.Selected += len(decision.Delete)
		c.metrics.selected.WithLabelValues(pol.Name, repo).Add(float64(len(decision.Delete)))
	}

	return plan, nil
}

// executePlan returns the failed deletions it skipped over, and a non nil error when the run must stop.
func (c *Cleaner) executePlan(ctx context.Context, plan *Plan, dryRun bool, onDeleteError DeleteErrorPolicy,
	report *Report,
) ([]error, error) {
	var skipped []error

	for idx := range plan.Items {
		item := &plan.Items[idx]

		if dryRun {
			item.Status = StatusDryRun

			c.log.Info().Str("module", "cleanup").Bool("dry-run", true).Str("policy", item.Policy).
				Str("repository", item.Repository).Str("tag", item.Tag).Msg("would delete tag")

			continue
		}

		if common.IsContextDone(ctx) {
			return skipped, ctx.Err()
		}

		if err := c.registry.DeleteTag(ctx, item.Repository, item.Tag); err != nil {
			item.Status = StatusFailed
			item.Error = err.Error()
			report.Failed++
			c.metrics.deleteErrors.WithLabelValues(item.Policy, item.Repository).Inc()

			c.log.Error().Err(err).Str("module", "cleanup").Str("policy", item.Policy).
				Str("repository", item.Repository).Str("tag", item.Tag).
				Str("on-delete-error", string(onDeleteError)).Msg("failed to delete tag")

			if onDeleteError == AbortOnDeleteError {
				return skipped, err
			}

			skipped = append(skipped, err)

			continue
		}

		item.Status = StatusDeleted
		report.Deleted++
		c.metrics.deleted.WithLabelValues(item.Policy, item.Repository).Inc()

		c.log.Info().Str("module", "cleanup").Str("policy", item.Policy).
			Str("repository", item.Repository).Str("tag", item.Tag).Msg("deleted tag")
	}

	return skipped, nil
}

// findRepository matches the full "project/name" or the name without its project.
func findRepository(repos []string, requested string) (string, bool) {
	for _, repo := range repos {
		if repo == requested {
			return repo, true
		}

		if _, name, found := strings.Cut(repo, "/"); found && name == requested {
			return repo, true
		}
	}

	return "", false
}
