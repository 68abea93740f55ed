package query

type widget struct {
	Name        string
	Description string
	Size        int
	Weight      *int
}

var (
	byName        = By("name", func(w widget) string { return w.Name })
	byDescription = By("description", func(w widget) string { return w.Description })
	bySize        = By("size", func(w widget) int { return w.Size })
	byWeight      = ByNullable("weight", func(w widget) *int { return w.Weight })
)

func intPtr(v int) *int { return &v }

// scrambled returns widgets with sizes 1..12 in a fixed non-sorted order.
func scrambled() []widget {
	sizes := []int{7, 3, 12, 1, 9, 5, 11, 2, 8, 6, 10, 4}
	out := make([]widget, len(sizes))
	for i, s := range sizes {
		out[i] = widget{Name: "w", Size: s}
	}
	return out
}

func sizesOf(items []widget) []int {
	out := make([]int, len(items))
	for i, w := range items {
		out[i] = w.Size
	}
	return out
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
