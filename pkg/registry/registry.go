package registry

import (
	"context"
	"time"
)

// TagRecord is one tag of one repository as seen by the registry at evaluation time.
type TagRecord struct {
	Repository string
	Tag        string
	PushTime   time.Time
	PullTime   *time.Time // nil if the tag was never pulled
}

type Client interface {
	ListRepositories(ctx context.Context) ([]string, error)
	ListTags(ctx context.Context, repo string) ([]TagRecord, error)
	// DeleteTag removes a tag, deleting a tag which no longer exists is not an error.
	DeleteTag(ctx context.Context, repo, tag string) error
}

func TagNames(records []TagRecord) []string {
	tags := make([]string, 0, len(records))
	for _, record := range records {
		tags = append(tags, record.Tag)
	}

	return tags
}
