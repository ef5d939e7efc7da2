package pool

import (
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// Accepted range for one group-size entry. One entry outside it discards
// the whole list.
const (
	minListEntry = 0
	maxListEntry = 64
)

// ParseGroupSizes parses the textual per-group core-count list: comma
// separated integers, optionally bracketed ("[1,1,1,1]"). Empty entries are
// skipped. A malformed or out-of-range entry invalidates the whole list so
// the caller falls back to the default plan; that case returns ok=false
// with a warning.
func ParseGroupSizes(raw string, log zerolog.Logger) (sizes []int, ok bool) {
	trimmed := strings.ReplaceAll(raw, "[", "")
	trimmed = strings.ReplaceAll(trimmed, "]", "")
	if strings.TrimSpace(trimmed) == "" {
		return nil, false
	}
	for _, entry := range strings.Split(trimmed, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		n, err := strconv.Atoi(entry)
		if err != nil {
			n = -1
		}
		if n < minListEntry || n > maxListEntry {
			log.Warn().Str("group_sizes", raw).
				Msg("group sizes list looks ill-formatted; falling back to the default plan")
			return nil, false
		}
		sizes = append(sizes, n)
	}
	return sizes, len(sizes) > 0
}
