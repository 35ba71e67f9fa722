package cleanup

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
)

// item statuses.
const (
	StatusPlanned = "planned"
	StatusDryRun  = "dry-run"
	StatusDeleted = "deleted"
	StatusFailed  = "failed"
)

const (
	colPolicyIndex = iota
	colRepositoryIndex
	colTagIndex
	colPushedIndex
	colSelectedByIndex
	colStatusIndex

	tableCols
)

type PlanItem struct {
	Policy     string
	Repository string
	Tag        string
	PushTime   time.Time
	SelectedBy []string
	Status     string
	Error      string
}

type SkippedRepository struct {
	Repository string
	Rule       string
}

// Plan holds the tags one policy selected across all repositories.
type Plan struct {
	Policy  string
	Items   []PlanItem
	Skipped []SkippedRepository
}

type Report struct {
	DryRun      bool
	GeneratedAt time.Time
	Plans       []Plan

	Selected int
	Deleted  int
	Failed   int
	Skipped  int
}

// newReportTable renders plain columns: no borders, no lines, cells separated by their padding.
func newReportTable(writer io.Writer) *tablewriter.Table {
	return tablewriter.NewTable(writer,
		tablewriter.WithRendition(tw.Rendition{
			Borders:  tw.BorderNone,
			Symbols:  tw.NewSymbols(tw.StyleNone),
			Settings: tw.Settings{Separators: tw.SeparatorsNone, Lines: tw.LinesNone},
		}),
		tablewriter.WithHeaderAutoFormat(tw.Off),
		tablewriter.WithHeaderAlignment(tw.AlignLeft),
		tablewriter.WithRowAlignment(tw.AlignLeft),
	)
}

// Print writes one line per selected tag followed by a summary.
func (report Report) Print(writer io.Writer) {
	var builder strings.Builder

	table := newReportTable(&builder)
	table.Header("POLICY", "REPOSITORY", "TAG", "PUSHED", "SELECTED BY", "STATUS")

	for _, plan := range report.Plans {
		for _, item := range plan.Items {
			row := make([]string, tableCols)
			row[colPolicyIndex] = item.Policy
			row[colRepositoryIndex] = item.Repository
			row[colTagIndex] = item.Tag
			row[colPushedIndex] = humanize.RelTime(item.PushTime, report.GeneratedAt, "ago", "from now")
			row[colSelectedByIndex] = strings.Join(item.SelectedBy, ",")
			row[colStatusIndex] = item.Status

			table.Append(row) //nolint:errcheck
		}
	}

	table.Render() //nolint:errcheck
	fmt.Fprint(writer, builder.String())

	mode := ""
	if report.DryRun {
		mode = " (dry run)"
	}

	fmt.Fprintf(writer, "%s selected, %s deleted, %s failed, %s repositories skipped%s\n",
		humanize.Comma(int64(report.Selected)), humanize.Comma(int64(report.Deleted)),
		humanize.Comma(int64(report.Failed)), humanize.Comma(int64(report.Skipped)), mode)
}
