package ledger

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Category is one of the fixed, closed set of likeable record tables.
type Category string

const (
	CategoryAshaar  Category = "ashaar"
	CategoryGhazlen Category = "ghazlen"
	CategoryNazmen  Category = "nazmen"
	CategoryRubai   Category = "rubai"
	CategoryEntries Category = "entries"
)

// Categories lists every valid category in wire order.
var Categories = []Category{
	CategoryAshaar,
	CategoryGhazlen,
	CategoryNazmen,
	CategoryRubai,
	CategoryEntries,
}

// ParseCategory returns the category named by s or ErrInvalidCategory.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.TrimSpace(s))
	for _, valid := range Categories {
		if c == valid {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidCategory, s)
}

// Likes maps every category to its liked record IDs, oldest first.
// A normalized Likes has an entry for every category and no duplicate IDs.
type Likes map[Category][]string

// Empty returns a normalized Likes with no entries.
func Empty() Likes {
	l := make(Likes, len(Categories))
	for _, c := range Categories {
		l[c] = []string{}
	}
	return l
}

// Normalize builds a structurally valid Likes from raw category lists.
// Unknown categories are returned separately so the caller can log them.
// Blank IDs and duplicates are dropped, keeping the first occurrence.
func Normalize(raw map[string][]string, maxPerCategory int) (Likes, []string) {
	out := Empty()
	var unknown []string
	for name, ids := range raw {
		c, err := ParseCategory(name)
		if err != nil {
			unknown = append(unknown, name)
			continue
		}
		out[c] = capIDs(appendUnique(out[c], ids...), maxPerCategory)
	}
	return out, unknown
}

// Count returns the number of liked IDs in a category.
func (l Likes) Count(c Category) int {
	return len(l[c])
}

// Contains reports whether id is liked in category c.
func (l Likes) Contains(c Category, id string) bool {
	return indexOf(l[c], id) >= 0
}

// Clone returns a deep copy.
func (l Likes) Clone() Likes {
	out := make(Likes, len(l))
	for c, ids := range l {
		out[c] = append([]string{}, ids...)
	}
	return out
}

// Total returns the number of liked IDs across all categories.
func (l Likes) Total() int {
	n := 0
	for _, ids := range l {
		n += len(ids)
	}
	return n
}

// MarshalJSON always emits every category, with [] for empty ones.
func (l Likes) MarshalJSON() ([]byte, error) {
	out := make(map[string][]string, len(Categories))
	for _, c := range Categories {
		ids := l[c]
		if ids == nil {
			ids = []string{}
		}
		out[string(c)] = ids
	}
	return json.Marshal(out)
}

// UnmarshalJSON accepts a raw category map. It does not validate; use Normalize
// on untrusted input.
func (l *Likes) UnmarshalJSON(data []byte) error {
	var raw map[string][]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(Likes, len(raw))
	for name, ids := range raw {
		out[Category(name)] = ids
	}
	*l = out
	return nil
}

// toggle flips id in category c, evicting the oldest entry on overflow.
func (l Likes) toggle(c Category, id string, maxPerCategory int) bool {
	ids := l[c]
	if i := indexOf(ids, id); i >= 0 {
		l[c] = append(ids[:i:i], ids[i+1:]...)
		return false
	}
	l[c] = capIDs(append(ids, id), maxPerCategory)
	return true
}

// union adds every ID in other that l does not already hold.
func (l Likes) union(other Likes, maxPerCategory int) {
	for _, c := range Categories {
		l[c] = capIDs(appendUnique(l[c], other[c]...), maxPerCategory)
	}
}

func appendUnique(dst []string, ids ...string) []string {
	seen := make(map[string]struct{}, len(dst)+len(ids))
	for _, id := range dst {
		seen[id] = struct{}{}
	}
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		dst = append(dst, id)
	}
	return dst
}

// capIDs keeps the newest max entries.
func capIDs(ids []string, max int) []string {
	if max > 0 && len(ids) > max {
		return append([]string{}, ids[len(ids)-max:]...)
	}
	return ids
}

func indexOf(ids []string, id string) int {
	for i, v := range ids {
		if v == id {
			return i
		}
	}
	return -1
}
