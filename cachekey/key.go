// Package cachekey defines the structured keys that address cached resources.
//
// A Key is the tuple (resource, id, tag). Keys double as prefixes: an empty
// ID or Tag in a prefix matches any value in that position, so
// Key{Resource: DishList} covers every dishlist key and
// Key{Resource: DishList, Tag: "my"} covers every dishlist key tagged "my".
package cachekey

import (
	"fmt"
	"strings"
)

// Resource names a kind of cached entity.
type Resource string

const (
	Recipe       Resource = "recipe"
	DishList     Resource = "dishlist"
	Search       Resource = "search"
	Notification Resource = "notification"
	Grocery      Resource = "grocery"
	Progress     Resource = "progress"
)

// SelfID is substituted with the mutated entity id when an invalidation
// table entry is resolved.
const SelfID = "$id"

const sep = ":"

// escaper keeps ids and tags containing sep from colliding with other keys.
var (
	escaper   = strings.NewReplacer("%", "%25", sep, "%3A")
	unescaper = strings.NewReplacer("%3A", sep, "%3a", sep, "%25", "%")
)

// Key addresses a single cache entry, or a family of entries when used as a
// prefix.
type Key struct {
	Resource Resource
	ID       string
	Tag      string
}

// Of returns the key covering every entry of resource r.
func Of(r Resource) Key {
	return Key{Resource: r}
}

// Entity returns the detail key for a single entity.
func Entity(r Resource, id string) Key {
	return Key{Resource: r, ID: id}
}

// Tagged returns a list key filtered by tag.
func Tagged(r Resource, tag string) Key {
	return Key{Resource: r, Tag: tag}
}

// String returns the stable serialization resource[:id[:tag]]. A ':' or '%'
// inside the id or tag is percent-encoded, so distinct keys never share a
// string form.
func (k Key) String() string {
	id, tag := escaper.Replace(k.ID), escaper.Replace(k.Tag)
	switch {
	case k.Tag != "":
		return string(k.Resource) + sep + id + sep + tag
	case k.ID != "":
		return string(k.Resource) + sep + id
	default:
		return string(k.Resource)
	}
}

// Parse is the inverse of Key.String.
func Parse(s string) (Key, error) {
	parts := strings.SplitN(s, sep, 3)
	if parts[0] == "" {
		return Key{}, fmt.Errorf("cachekey: empty resource in %q", s)
	}
	k := Key{Resource: Resource(parts[0])}
	if len(parts) > 1 {
		k.ID = unescaper.Replace(parts[1])
	}
	if len(parts) > 2 {
		if strings.Contains(parts[2], sep) {
			return Key{}, fmt.Errorf("cachekey: unescaped %q in tag of %q", sep, s)
		}
		k.Tag = unescaper.Replace(parts[2])
	}
	return k, nil
}

// Matches reports whether k falls under prefix.
func (k Key) Matches(prefix Key) bool {
	if k.Resource != prefix.Resource {
		return false
	}
	if prefix.ID != "" && prefix.ID != k.ID {
		return false
	}
	if prefix.Tag != "" && prefix.Tag != k.Tag {
		return false
	}
	return true
}

// WithID returns a copy of k with the SelfID placeholder replaced by id. A key
// without the placeholder is returned unchanged.
func (k Key) WithID(id string) Key {
	if k.ID == SelfID {
		k.ID = id
	}
	return k
}

// IsZero reports whether k has no resource.
func (k Key) IsZero() bool {
	return k.Resource == ""
}
