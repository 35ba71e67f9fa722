package cleanup

import (
	"fmt"
	"strings"

	zerr "zotregistry.dev/tagprune/errors"
)

// DeleteErrorPolicy tells the cleaner what to do when a tag could not be deleted.
type DeleteErrorPolicy string

const (
	// AbortOnDeleteError stops the run at the first failed deletion.
	AbortOnDeleteError DeleteErrorPolicy = "abort"
	// ContinueOnDeleteError records the failure and deletes the remaining tags,
	// the run still fails at the end.
	ContinueOnDeleteError DeleteErrorPolicy = "continue"
)

func ParseDeleteErrorPolicy(value string) (DeleteErrorPolicy, error) {
	switch policy := DeleteErrorPolicy(strings.ToLower(strings.TrimSpace(value))); policy {
	case "":
		return AbortOnDeleteError, nil
	case AbortOnDeleteError, ContinueOnDeleteError:
		return policy, nil
	default:
		return "", fmt.Errorf("%w: %q, expected %q or %q", zerr.ErrBadDeleteErrorPolicy, value,
			AbortOnDeleteError, ContinueOnDeleteError)
	}
}

type Options struct {
	// Repository restricts the run to one repository, given with or without its project.
	Repository    string
	DryRun        bool
	OnDeleteError DeleteErrorPolicy
}
