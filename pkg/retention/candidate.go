package retention

import (
	"regexp"
	"time"
)

// leftmost-first alternation, a longer digit run yields its longest date prefix.
//
//nolint:gochecknoglobals
var nameDate = regexp.MustCompile(`\d{14}|\d{12}|\d{8}`)

// layouts of the dates recognized inside tag names, by number of digits.
//
//nolint:gochecknoglobals
var nameDateLayouts = map[int]string{
	8:  "20060102",
	12: "200601021504",
	14: "20060102150405",
}

type datedTag struct {
	tag  string
	date time.Time
}

// ExtractNameDate returns the first valid date embedded in tag as 14 (YYYYMMDDHHMMSS), 12 (YYYYMMDDHHMM)
// or 8 (YYYYMMDD) digits.
func ExtractNameDate(tag string) (time.Time, bool) {
	for _, match := range nameDate.FindAllString(tag, -1) {
		date, err := time.Parse(nameDateLayouts[len(match)], match)
		if err == nil {
			return date, true
		}
	}

	return time.Time{}, false
}

func getDatedTags(tags []string) []datedTag {
	dated := make([]datedTag, 0, len(tags))

	for _, tag := range tags {
		if date, ok := ExtractNameDate(tag); ok {
			dated = append(dated, datedTag{tag: tag, date: date})
		}
	}

	return dated
}
