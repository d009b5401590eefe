package transfer

import (
	"regexp"
	"strings"

	"github.com/qolidata/mobsync/pkg/aoi"
)

// Location is one destination partition in the data lake, derived from an
// AOI's normalized country/state/city names.
type Location struct {
	Country string
	State   string
	City    string
}

// Prefix returns the destination key prefix for this location. The state
// segment is omitted when the location has no state or province.
func (l Location) Prefix() string {
	if l.State != "" {
		return "data/" + l.Country + "/" + l.State + "/" + l.City
	}
	return "data/" + l.Country + "/" + l.City
}

// LocationsFromAOIs returns the distinct destination locations covered by a
// chunk's AOIs, in first-seen order.
func LocationsFromAOIs(aois []aoi.AOI) []Location {
	seen := make(map[Location]struct{}, len(aois))
	out := make([]Location, 0, len(aois))
	for _, a := range aois {
		country, state, city := a.PathSegments()
		loc := Location{Country: country, State: state, City: city}
		if _, ok := seen[loc]; ok {
			continue
		}
		seen[loc] = struct{}{}
		out = append(out, loc)
	}
	return out
}

var dateSegment = regexp.MustCompile(`^(?:date=)?(\d{4}-\d{2}-\d{2})$`)

// UnknownDate is the partition value used when a source key carries no
// recognizable date segment.
const UnknownDate = "unknown"

// destKey maps one source object into a location's partition.
//
// The vendor partitions job output by date, either as `date=2026-03-01` or a
// bare `2026-03-01` directory. That segment selects the destination date
// partition; every other segment is preserved so part files with the same
// name in different subtrees, before or after the date, cannot collide.
func destKey(loc Location, relKey string) string {
	segments := strings.Split(strings.Trim(relKey, "/"), "/")

	date := UnknownDate
	rest := segments
	for i, seg := range segments[:len(segments)-1] {
		if m := dateSegment.FindStringSubmatch(seg); m != nil {
			date = m[1]
			rest = make([]string, 0, len(segments)-1)
			rest = append(rest, segments[:i]...)
			rest = append(rest, segments[i+1:]...)
			break
		}
	}

	return loc.Prefix() + "/date=" + date + "/" + strings.Join(rest, "/")
}
