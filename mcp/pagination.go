package mcp

import "sort"

// DefaultPageSize is used by list operations when no limit is given.
const DefaultPageSize = 50

// paginate selects one page from sorted names. The cursor is the last name of
// the previous page; the page starts strictly after it, whether or not that
// name still exists.
func paginate(names []string, cursor string, limit int) (start, end int, next string) {
	if limit <= 0 {
		limit = DefaultPageSize
	}

	if cursor != "" {
		start = sort.SearchStrings(names, cursor)
		if start < len(names) && names[start] == cursor {
			start++
		}
	}

	end = start + limit
	if end >= len(names) {
		return start, len(names), ""
	}
	return start, end, names[end-1]
}
