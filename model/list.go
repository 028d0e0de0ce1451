package model

import "slices"

// IndexOf returns the position of the entity with id, or -1.
func IndexOf[T Entity](list []T, id string) int {
	return slices.IndexFunc(list, func(v T) bool { return v.EntityID() == id })
}

// Find returns the entity with id.
func Find[T Entity](list []T, id string) (T, bool) {
	if i := IndexOf(list, id); i >= 0 {
		return list[i], true
	}
	var zero T
	return zero, false
}

// ReplaceByID puts v where the entity oldID was and drops every other entry
// carrying v's id, so a temp id and its server id never coexist. When oldID
// is absent v replaces its own id in place, or is prepended when new.
func ReplaceByID[T Entity](list []T, oldID string, v T) []T {
	pos := IndexOf(list, oldID)
	if pos < 0 {
		pos = IndexOf(list, v.EntityID())
	}
	out := make([]T, 0, len(list)+1)
	if pos < 0 {
		out = append(out, v)
	}
	for i, e := range list {
		switch {
		case i == pos:
			out = append(out, v)
		case e.EntityID() == v.EntityID(), e.EntityID() == oldID:
		default:
			out = append(out, e)
		}
	}
	return out
}

// Prepend returns a copy of list with v in front.
func Prepend[T any](list []T, v ...T) []T {
	out := make([]T, 0, len(list)+len(v))
	out = append(out, v...)
	return append(out, list...)
}

// RemoveByID returns a copy of list without the entity id.
func RemoveByID[T Entity](list []T, id string) []T {
	out := make([]T, 0, len(list))
	for _, e := range list {
		if e.EntityID() != id {
			out = append(out, e)
		}
	}
	return out
}

// UpdateByID returns a copy of list with fn applied to the entity id. The
// boolean reports whether the entity was present.
func UpdateByID[T Entity](list []T, id string, fn func(T) T) ([]T, bool) {
	out := slices.Clone(list)
	i := IndexOf(out, id)
	if i < 0 {
		return out, false
	}
	out[i] = fn(out[i])
	return out, true
}
