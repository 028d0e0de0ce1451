package mutation

import (
	"github.com/Keksclan/dishsync/cache"
	"github.com/Keksclan/dishsync/cachekey"
	"github.com/Keksclan/dishsync/model"
)

// Typed adapts fn to a Transform over decoded values. Keys with nothing
// cached are left alone.
func Typed[T any](fn func(key cachekey.Key, current T) (T, error)) Transform {
	return func(k cachekey.Key, cur []byte) ([]byte, error) {
		if cur == nil {
			return nil, nil
		}
		v, err := cache.Decode[T](cur)
		if err != nil {
			return nil, err
		}
		next, err := fn(k, v)
		if err != nil {
			return nil, err
		}
		return cache.Encode(next)
	}
}

// Keyed dispatches to the transform registered for each key. Keys without a
// transform are left alone.
func Keyed(byKey map[cachekey.Key]Transform) Transform {
	return func(k cachekey.Key, cur []byte) ([]byte, error) {
		fn, ok := byKey[k]
		if !ok {
			return cur, nil
		}
		return fn(k, cur)
	}
}

// ClearData empties the cached data of every key it is applied to.
func ClearData() Transform {
	return func(cachekey.Key, []byte) ([]byte, error) { return nil, nil }
}

// ReplaceWith stores v as the new value, whether or not anything was cached.
func ReplaceWith(v any) Transform {
	return func(cachekey.Key, []byte) ([]byte, error) { return cache.Encode(v) }
}

// PrependToList inserts v at the head of a cached list.
func PrependToList[T any](v ...T) Transform {
	return Typed(func(_ cachekey.Key, list []T) ([]T, error) {
		return model.Prepend(list, v...), nil
	})
}

// RemoveFromList drops the entity with id from a cached list.
func RemoveFromList[T model.Entity](id string) Transform {
	return Typed(func(_ cachekey.Key, list []T) ([]T, error) {
		return model.RemoveByID(list, id), nil
	})
}

// UpdateInList applies fn to the entity with id in a cached list. A list
// without that entity is left alone.
func UpdateInList[T model.Entity](id string, fn func(T) T) Transform {
	return func(k cachekey.Key, cur []byte) ([]byte, error) {
		if cur == nil {
			return nil, nil
		}
		list, err := cache.Decode[[]T](cur)
		if err != nil {
			return nil, err
		}
		next, ok := model.UpdateByID(list, id, fn)
		if !ok {
			return cur, nil
		}
		return cache.Encode(next)
	}
}

// UpdateEntity applies fn to a cached single entity.
func UpdateEntity[T any](fn func(T) T) Transform {
	return Typed(func(_ cachekey.Key, v T) (T, error) { return fn(v), nil })
}

// Verbatim stores the authoritative payload as is.
func Verbatim() Reconcile {
	return func(_ cachekey.Key, _, auth []byte) ([]byte, error) { return auth, nil }
}

// KeepCurrent leaves the optimistic value in place. The invalidation that
// follows settle brings the key back in line with the server.
func KeepCurrent() Reconcile {
	return func(_ cachekey.Key, cur, _ []byte) ([]byte, error) { return cur, nil }
}

// ClearOnSettle empties the key once the remote call succeeded.
func ClearOnSettle() Reconcile {
	return func(cachekey.Key, []byte, []byte) ([]byte, error) { return nil, nil }
}

// ReconcileKeyed dispatches to the reconciler registered for each key and
// falls back to fallback (Verbatim when nil).
func ReconcileKeyed(byKey map[cachekey.Key]Reconcile, fallback Reconcile) Reconcile {
	if fallback == nil {
		fallback = Verbatim()
	}
	return func(k cachekey.Key, cur, auth []byte) ([]byte, error) {
		if fn, ok := byKey[k]; ok {
			return fn(k, cur, auth)
		}
		return fallback(k, cur, auth)
	}
}

// UpsertInList places the authoritative entity into a cached list where
// oldID (typically a temp id) or the entity's own id sits, dropping
// duplicates. A list with neither gets the entity prepended.
func UpsertInList[T model.Entity](oldID string) Reconcile {
	return func(_ cachekey.Key, cur, auth []byte) ([]byte, error) {
		if cur == nil {
			return nil, nil
		}
		list, err := cache.Decode[[]T](cur)
		if err != nil {
			return nil, err
		}
		v, err := cache.Decode[T](auth)
		if err != nil {
			return nil, err
		}
		return cache.Encode(model.ReplaceByID(list, oldID, v))
	}
}

// UpdateListed replaces the entity in a cached list with the authoritative
// one only when the list already contains it.
func UpdateListed[T model.Entity]() Reconcile {
	return func(_ cachekey.Key, cur, auth []byte) ([]byte, error) {
		if cur == nil {
			return nil, nil
		}
		list, err := cache.Decode[[]T](cur)
		if err != nil {
			return nil, err
		}
		v, err := cache.Decode[T](auth)
		if err != nil {
			return nil, err
		}
		if model.IndexOf(list, v.EntityID()) < 0 {
			return cur, nil
		}
		return cache.Encode(model.ReplaceByID(list, v.EntityID(), v))
	}
}

// EntityOrList dispatches on key shape: keys with an ID are detail entries,
// the rest are lists.
func EntityOrList(entity, list Transform) Transform {
	return func(k cachekey.Key, cur []byte) ([]byte, error) {
		if k.ID != "" {
			return entity(k, cur)
		}
		return list(k, cur)
	}
}

// ReconcileEntityOrList is the Reconcile form of EntityOrList.
func ReconcileEntityOrList(entity, list Reconcile) Reconcile {
	return func(k cachekey.Key, cur, auth []byte) ([]byte, error) {
		if k.ID != "" {
			return entity(k, cur, auth)
		}
		return list(k, cur, auth)
	}
}
