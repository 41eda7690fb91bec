package transform

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Wiley returns the transformer for Crossref work records of Wiley articles.
func Wiley() *Transformer {
	return &Transformer{
		Required: []Field{
			{Name: "dc.title", Derive: Fn1(func(rec Record) any {
				return strings.Join(rec.Strings("title"), ". ")
			})},
			{Name: "dc.date.issued", Derive: Fn1(crossrefIssued)},
		},
		Optional: []Field{
			{Name: "dc.contributor.author", Derive: Fn1(crossrefAuthors)},
			{Name: "dc.title.alternative", Derive: Fn1(func(rec Record) any {
				var titles []string
				for _, key := range []string{"original-title", "short-title", "subtitle"} {
					titles = append(titles, rec.Strings(key)...)
				}
				return titles
			})},
			{Name: "dc.publisher", Source: "publisher"},
			{Name: "dc.identifier.issn", Source: "ISSN"},
			{Name: "dc.relation.journal", Source: "container-title"},
			{Name: "mit.journal.volume", Source: "volume"},
			{Name: "mit.journal.issue", Source: "issue"},
			{Name: "dc.language", Source: "language"},
			{Name: "dc.relation.isversionof", Source: "dc_relation_isversionof"},
		},
	}
}

// crossrefIssued formats issued.date-parts[0] as YYYY-MM-DD, or YYYY-MM when
// the day is missing.
func crossrefIssued(rec Record) any {
	issued, ok := rec["issued"].(map[string]any)
	if !ok {
		return nil
	}
	parts := asList(issued["date-parts"])
	if len(parts) == 0 {
		return nil
	}
	ymd := asList(parts[0])

	nums := make([]int, 0, 3)
	for _, p := range ymd {
		n, ok := dateInt(p)
		if !ok {
			return nil
		}
		nums = append(nums, n)
	}
	switch {
	case len(nums) >= 3 && nums[2] > 0:
		return fmt.Sprintf("%04d-%02d-%02d", nums[0], nums[1], nums[2])
	case len(nums) >= 2:
		return fmt.Sprintf("%04d-%02d", nums[0], nums[1])
	default:
		return nil
	}
}

func dateInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case float64:
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		return int(i), err == nil
	case string:
		i, err := strconv.Atoi(n)
		return i, err == nil
	default:
		return 0, false
	}
}

func crossrefAuthors(rec Record) any {
	var names []string
	for _, a := range rec.Records("author") {
		family, given := a.String("family"), a.String("given")
		if family == "" || given == "" {
			continue
		}
		names = append(names, family+", "+given)
	}
	return names
}
