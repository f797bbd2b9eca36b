package diff

import "strings"

// Prepare strips a record before it is written or compared: excluded
// attributes are deleted and non-nullable attributes holding null are dropped.
// Paths are dotted and fan out over sequences.
func Prepare(record map[string]any, excluded, nonNullable []string) {
	for _, p := range excluded {
		RemoveAttribute(record, p)
	}
	for _, p := range nonNullable {
		RemoveNullAttribute(record, p)
	}
}

// RemoveAttribute deletes the attribute at path. Missing intermediate
// attributes are not an error.
func RemoveAttribute(obj any, path string) {
	removeAttr(strings.Split(path, "."), obj)
}

// RemoveNullAttribute deletes the attribute at path only when its value is null.
func RemoveNullAttribute(obj any, path string) {
	removeNullAttr(strings.Split(path, "."), obj)
}

func removeAttr(keys []string, obj any) {
	switch v := obj.(type) {
	case []any:
		for _, item := range v {
			removeAttr(keys, item)
		}
	case map[string]any:
		if len(keys) == 1 {
			delete(v, keys[0])
			return
		}
		if next, ok := v[keys[0]]; ok {
			removeAttr(keys[1:], next)
		}
	}
}

func removeNullAttr(keys []string, obj any) {
	switch v := obj.(type) {
	case []any:
		for _, item := range v {
			removeNullAttr(keys, item)
		}
	case map[string]any:
		next, ok := v[keys[0]]
		if !ok {
			return
		}
		if len(keys) == 1 {
			if next == nil {
				delete(v, keys[0])
			}
			return
		}
		if next != nil {
			removeNullAttr(keys[1:], next)
		}
	}
}
