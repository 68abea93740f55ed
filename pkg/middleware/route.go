package middleware

import "strings"

// collections are path segments followed by an entity id.
var collections = map[string]bool{"buckets": true, "items": true}

// RouteLabel replaces the id segment after every collection with ":id",
// so /api/v1/buckets/b1/items/i9 becomes /api/v1/buckets/:id/items/:id.
// The batch endpoint keeps its literal name. Metrics and span names use it to
// keep cardinality bounded.
func RouteLabel(path string) string {
	segments := strings.Split(path, "/")
	for i := 1; i < len(segments); i++ {
		if !collections[segments[i-1]] || segments[i] == "" {
			continue
		}
		if segments[i-1] == "items" && segments[i] == "batch" {
			continue
		}
		segments[i] = ":id"
	}
	return strings.Join(segments, "/")
}
