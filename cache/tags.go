package cache

import (
	"slices"
	"sort"
)

// Home is the tag of the site's landing page.
const Home = "home"

// Tag constructors for each namespace.
func Tenant(id string) string       { return "tenant:" + id }
func Collection(kind string) string { return "collection:" + kind }
func City(slug string) string       { return "city:" + slug }
func Listing(slug string) string    { return "listing:" + slug }
func Reviews(entityID string) string {
	return "reviews:" + entityID
}

// Tags is a sorted set of cache tags. The zero value is an empty set.
type Tags []string

// NewTags returns the set of the non-empty tags given.
func NewTags(tags ...string) Tags {
	var t Tags
	return t.Add(tags...)
}

// Add returns the set with tags added. Empty strings are ignored.
func (t Tags) Add(tags ...string) Tags {
	out := slices.Clone(t)
	for _, tag := range tags {
		if tag == "" {
			continue
		}
		i := sort.SearchStrings(out, tag)
		if i < len(out) && out[i] == tag {
			continue
		}
		out = slices.Insert(out, i, tag)
	}
	return out
}

// Has reports whether tag is in the set.
func (t Tags) Has(tag string) bool {
	i := sort.SearchStrings(t, tag)
	return i < len(t) && t[i] == tag
}

// Empty reports whether the set has no tags.
func (t Tags) Empty() bool { return len(t) == 0 }

// Chunks splits the set into slices of at most n tags.
func (t Tags) Chunks(n int) []Tags {
	if n <= 0 || len(t) <= n {
		if t.Empty() {
			return nil
		}
		return []Tags{t}
	}
	var chunks []Tags
	for start := 0; start < len(t); start += n {
		chunks = append(chunks, t[start:min(start+n, len(t))])
	}
	return chunks
}
