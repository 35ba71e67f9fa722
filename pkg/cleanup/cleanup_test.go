package cleanup_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"

	zerr "zotregistry.dev/tagprune/errors"
	"zotregistry.dev/tagprune/pkg/cleanup"
	"zotregistry.dev/tagprune/pkg/log"
	"zotregistry.dev/tagprune/pkg/manifest"
	"zotregistry.dev/tagprune/pkg/policy"
	"zotregistry.dev/tagprune/pkg/registry"
	"zotregistry.dev/tagprune/pkg/retention"
)

var errBoom = errors.New("boom")

type fakeRegistry struct {
	tags       map[string][]registry.TagRecord
	deleted    []string
	failDelete map[string]bool
	listErr    error
	listed     []string
}

func (f *fakeRegistry) ListRepositories(context.Context) ([]string, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}

	repos := make([]string, 0, len(f.tags))
	for repo := range f.tags {
		repos = append(repos, repo)
	}

	sort.Strings(repos)

	return repos, nil
}

func (f *fakeRegistry) ListTags(_ context.Context, repo string) ([]registry.TagRecord, error) {
	f.listed = append(f.listed, repo)

	return f.tags[repo], nil
}

func (f *fakeRegistry) DeleteTag(_ context.Context, repo, tag string) error {
	if f.failDelete[repo+":"+tag] {
		return fmt.Errorf("%w: %s:%s: %w", zerr.ErrRegistryDelete, repo, tag, errBoom)
	}

	f.deleted = append(f.deleted, repo+":"+tag)

	// deleted tags disappear from the inventory
	remaining := f.tags[repo][:0:0]
	for _, record := range f.tags[repo] {
		if record.Tag != tag {
			remaining = append(remaining, record)
		}
	}

	f.tags[repo] = remaining

	return nil
}

func records(repo string, pushTime time.Time, tags ...string) []registry.TagRecord {
	inventory := make([]registry.TagRecord, 0, len(tags))
	for _, tag := range tags {
		inventory = append(inventory, registry.TagRecord{Repository: repo, Tag: tag, PushTime: pushTime})
	}

	return inventory
}

func TestParseDeleteErrorPolicy(t *testing.T) {
	Convey("Delete error policies", t, func() {
		onError, err := cleanup.ParseDeleteErrorPolicy("")
		So(err, ShouldBeNil)
		So(onError, ShouldEqual, cleanup.AbortOnDeleteError)

		onError, err = cleanup.ParseDeleteErrorPolicy(" Continue ")
		So(err, ShouldBeNil)
		So(onError, ShouldEqual, cleanup.ContinueOnDeleteError)

		_, err = cleanup.ParseDeleteErrorPolicy("retry")
		So(errors.Is(err, zerr.ErrBadDeleteErrorPolicy), ShouldBeTrue)
	})
}

func TestRun(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	old := now.Add(-60 * 24 * time.Hour)
	ctx := context.Background()

	policies := []policy.Policy{
		{Name: "features", Rules: []policy.Rule{
			policy.DeleteByCreateTime{Label: "old-features", Regexp: "feature-", Days: 30},
			policy.NewIgnoreRepos("bases", "base"),
		}},
		{Name: "releases", Rules: []policy.Rule{
			policy.DeleteByNameRegexp{Label: "semver", Regexp: `v\d+`, Limit: 1},
			policy.NewIgnoreTags("", "rc"),
		}},
	}

	Convey("With a registry", t, func() {
		fake := &fakeRegistry{tags: map[string][]registry.TagRecord{
			"library/app": append(records("library/app", old, "feature-1", "feature-2", "v1", "v2", "v3-rc"),
				records("library/app", now, "feature-3")...),
			"library/base": records("library/base", old, "feature-1", "v1", "v2"),
		}}

		engine := retention.NewEngine(log.NewNopLogger()).WithClock(func() time.Time { return now })
		cleaner := cleanup.NewCleaner(fake, engine, nil, log.NewNopLogger())

		referenced := manifest.NewReferencedTags()
		referenced.Add("library/app", "feature-2")

		Convey("Dry run deletes nothing and reports the plan", func() {
			report, err := cleaner.Run(ctx, policies, referenced, cleanup.Options{DryRun: true})
			So(err, ShouldBeNil)
			So(fake.deleted, ShouldBeEmpty)
			So(report.Plans, ShouldHaveLength, 2)

			So(report.Plans[0].Items, ShouldHaveLength, 1)
			So(report.Plans[0].Items[0].Tag, ShouldEqual, "feature-1")
			So(report.Plans[0].Items[0].SelectedBy, ShouldResemble, []string{"old-features"})
			So(report.Plans[0].Items[0].Status, ShouldEqual, cleanup.StatusDryRun)
			So(report.Plans[0].Skipped, ShouldResemble, []cleanup.SkippedRepository{
				{Repository: "library/base", Rule: "bases"},
			})
			// library/base is only listed for the policy not ignoring it
			So(fake.listed, ShouldResemble, []string{"library/app", "library/app", "library/base"})

			tags := []string{}
			for _, item := range report.Plans[1].Items {
				tags = append(tags, item.Repository+":"+item.Tag)
			}

			So(tags, ShouldResemble, []string{"library/app:v1", "library/app:v2", "library/base:v1"})
			So(report.Selected, ShouldEqual, 4)
			So(report.Skipped, ShouldEqual, 1)

			var out bytes.Buffer
			report.Print(&out)

			So(out.String(), ShouldContainSubstring, "POLICY")
			So(out.String(), ShouldContainSubstring, "SELECTED BY")
			So(out.String(), ShouldContainSubstring, "feature-1")
			So(out.String(), ShouldContainSubstring, "2 months ago")
			So(out.String(), ShouldContainSubstring, "4 selected, 0 deleted, 0 failed, 1 repositories skipped (dry run)")

			// header, one line per selected tag and the summary, without border lines
			lines := strings.Split(strings.TrimSpace(out.String()), "\n")
			So(lines, ShouldHaveLength, 6)
			So(strings.Fields(lines[0]), ShouldResemble,
				[]string{"POLICY", "REPOSITORY", "TAG", "PUSHED", "SELECTED", "BY", "STATUS"})
			So(strings.Fields(lines[1])[2], ShouldEqual, "feature-1")
			So(out.String(), ShouldNotContainSubstring, "│")
			So(out.String(), ShouldNotContainSubstring, "─")
		})

		Convey("Tags are deleted policy by policy", func() {
			report, err := cleaner.Run(ctx, policies, referenced, cleanup.Options{})
			So(err, ShouldBeNil)
			So(fake.deleted, ShouldResemble, []string{
				"library/app:feature-1", "library/app:v1", "library/app:v2", "library/base:v1",
			})
			So(report.Deleted, ShouldEqual, 4)

			for _, plan := range report.Plans {
				for _, item := range plan.Items {
					So(item.Status, ShouldEqual, cleanup.StatusDeleted)
				}
			}

			count, err := testutil.GatherAndCount(cleaner.Metrics().Registry(), "tagprune_tags_deleted_total")
			So(err, ShouldBeNil)
			So(count, ShouldEqual, 3)

			count, err = testutil.GatherAndCount(cleaner.Metrics().Registry(), "tagprune_last_run_timestamp_seconds")
			So(err, ShouldBeNil)
			So(count, ShouldEqual, 1)

			Convey("A second run selects nothing", func() {
				report, err := cleaner.Run(ctx, policies, referenced, cleanup.Options{})
				So(err, ShouldBeNil)
				So(report.Selected, ShouldEqual, 0)
			})
		})

		Convey("A single repository", func() {
			report, err := cleaner.Run(ctx, policies, referenced, cleanup.Options{Repository: "base"})
			So(err, ShouldBeNil)
			So(fake.deleted, ShouldResemble, []string{"library/base:v1"})
			So(report.Skipped, ShouldEqual, 1)

			_, err = cleaner.Run(ctx, policies, referenced, cleanup.Options{Repository: "library/app"})
			So(err, ShouldBeNil)

			Convey("Unknown repository fails before deleting anything", func() {
				fake.deleted = nil

				_, err := cleaner.Run(ctx, policies, referenced, cleanup.Options{Repository: "missing"})
				So(errors.Is(err, zerr.ErrRepoNotFound), ShouldBeTrue)
				So(fake.deleted, ShouldBeEmpty)
			})
		})

		Convey("Delete errors abort by default", func() {
			fake.failDelete = map[string]bool{"library/app:feature-1": true}

			report, err := cleaner.Run(ctx, policies, referenced, cleanup.Options{})
			So(errors.Is(err, zerr.ErrRegistryDelete), ShouldBeTrue)
			So(fake.deleted, ShouldBeEmpty)
			So(report.Failed, ShouldEqual, 1)
			So(report.Plans[0].Items[0].Status, ShouldEqual, cleanup.StatusFailed)
			So(report.Plans[0].Items[0].Error, ShouldContainSubstring, "boom")
		})

		Convey("Delete errors can be skipped", func() {
			fake.failDelete = map[string]bool{"library/app:feature-1": true}

			report, err := cleaner.Run(ctx, policies, referenced,
				cleanup.Options{OnDeleteError: cleanup.ContinueOnDeleteError})
			So(errors.Is(err, zerr.ErrRegistryDelete), ShouldBeTrue)
			So(errors.Is(err, errBoom), ShouldBeTrue)
			So(fake.deleted, ShouldResemble, []string{"library/app:v1", "library/app:v2", "library/base:v1"})
			So(report.Failed, ShouldEqual, 1)
			So(report.Deleted, ShouldEqual, 3)

			expected := `
# HELP tagprune_tag_delete_errors_total Total number of tags which could not be deleted
# TYPE tagprune_tag_delete_errors_total counter
tagprune_tag_delete_errors_total{policy="features",repository="library/app"} 1
`
			So(testutil.GatherAndCompare(cleaner.Metrics().Registry(), strings.NewReader(expected),
				"tagprune_tag_delete_errors_total"), ShouldBeNil)
		})

		Convey("Canceled context", func() {
			canceled, cancel := context.WithCancel(ctx)
			cancel()

			_, err := cleaner.Run(canceled, policies, referenced, cleanup.Options{})
			So(errors.Is(err, context.Canceled), ShouldBeTrue)
			So(fake.deleted, ShouldBeEmpty)
		})

		Convey("Registry errors are returned", func() {
			fake.listErr = zerr.ErrRegistryLookup

			_, err := cleaner.Run(ctx, policies, referenced, cleanup.Options{})
			So(errors.Is(err, zerr.ErrRegistryLookup), ShouldBeTrue)
		})
	})
}

func TestMetricsPush(t *testing.T) {
	Convey("Metrics are pushed to the gateway", t, func() {
		var body string

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body = r.URL.Path

			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		metrics := cleanup.NewMetrics()
		So(metrics.Push(context.Background(), server.URL), ShouldBeNil)
		So(body, ShouldEqual, "/metrics/job/tagprune")

		Convey("Gateway failures are reported", func() {
			server.Close()

			err := metrics.Push(context.Background(), server.URL)
			So(errors.Is(err, zerr.ErrMetricsPush), ShouldBeTrue)
		})
	})
}
