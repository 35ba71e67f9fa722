package types

import (
	"time"

	"zotregistry.dev/tagprune/pkg/policy"
	"zotregistry.dev/tagprune/pkg/registry"
)

// Decision is the outcome of one policy applied to one repository.
type Decision struct {
	Policy     string
	Repository string
	// Skipped is set when an IgnoreRepos rule matched the repository, SkippedBy names that rule.
	Skipped   bool
	SkippedBy string
	// Delete is sorted ascending.
	Delete []string
	// SelectedBy lists, for every tag in Delete, the rules which selected it.
	SelectedBy map[string][]string
	// Protected lists the selected tags which were kept and why.
	Protected map[string]string
}

// ReferenceChecker tells whether a tag is still used by a deployment manifest.
type ReferenceChecker interface {
	Contains(repo, tag string) bool
	// TagsFor returns every tag of repo used by a manifest, sorted.
	TagsFor(repo string) []string
}

type TagSelector interface {
	SkipsRepository(repo string, pol policy.Policy) (bool, string)
	SelectTagsToDelete(repo string, inventory []registry.TagRecord, referenced ReferenceChecker,
		pol policy.Policy) Decision
	Now() time.Time
}
