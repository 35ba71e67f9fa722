package manifest

import "sort"

// ReferencedTags is the set of (repository, tag) pairs used by deployment manifests.
type ReferencedTags struct {
	tags map[string]map[string]struct{}
	size int
}

func NewReferencedTags() ReferencedTags {
	return ReferencedTags{tags: map[string]map[string]struct{}{}}
}

func (r *ReferencedTags) Add(repo, tag string) {
	if r.tags == nil {
		r.tags = map[string]map[string]struct{}{}
	}

	repoTags, ok := r.tags[repo]
	if !ok {
		repoTags = map[string]struct{}{}
		r.tags[repo] = repoTags
	}

	if _, ok := repoTags[tag]; !ok {
		repoTags[tag] = struct{}{}
		r.size++
	}
}

func (r ReferencedTags) Contains(repo, tag string) bool {
	_, ok := r.tags[repo][tag]

	return ok
}

// TagsFor returns the tags referenced for repo, sorted.
func (r ReferencedTags) TagsFor(repo string) []string {
	tags := make([]string, 0, len(r.tags[repo]))
	for tag := range r.tags[repo] {
		tags = append(tags, tag)
	}

	sort.Strings(tags)

	return tags
}

func (r ReferencedTags) Len() int {
	return r.size
}
