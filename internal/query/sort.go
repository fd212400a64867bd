package query

import "sort"

// SortByField sorts docs in place by the value at field, ascending unless
// desc is set. Comparisons go through CompareValues, so numeric fields sort
// numerically and everything else falls back to string comparison.
func SortByField(docs []map[string]interface{}, field string, desc bool) {
	sort.SliceStable(docs, func(i, j int) bool {
		cmp := CompareValues(docs[i][field], docs[j][field])
		if desc {
			return cmp > 0
		}
		return cmp < 0
	})
}
