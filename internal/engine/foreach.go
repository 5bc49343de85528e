package engine

import (
	"fmt"
	"sort"
	"strings"

	"github.com/stacksmith-io/stacksmith/internal/ir"
)

// ExpandForEach expands resources with ForEach or Count into individual
// concrete specs, one per item, with the item key appended to the template
// key. Expansion is a pure function over the declared resources and runs
// before graph construction. An empty collection yields zero nodes; a
// collision between expanded keys is a configuration error.
func ExpandForEach(resources []*ir.Resource) ([]*ir.Resource, error) {
	var expanded []*ir.Resource

	for _, res := range resources {
		switch {
		case res.Count > 0:
			for i := 0; i < res.Count; i++ {
				clone := cloneResource(res)
				clone.Key = fmt.Sprintf("%s[%d]", res.Key, i)
				clone.Inputs = substituteAll(clone.Inputs, "${count.index}", fmt.Sprintf("%d", i))
				expanded = append(expanded, clone)
			}
		case res.ForEach != nil:
			items, err := forEachItems(res)
			if err != nil {
				return nil, err
			}
			seen := make(map[string]bool, len(items))
			for _, item := range items {
				if seen[item.key] {
					return nil, &DuplicateResourceKeyError{
						Address: fmt.Sprintf("%s.%s[%q]", res.Type, res.Key, item.key),
					}
				}
				seen[item.key] = true

				clone := cloneResource(res)
				clone.Key = fmt.Sprintf("%s[%q]", res.Key, item.key)
				clone.Inputs = substituteEach(clone.Inputs, item.key, item.value)
				expanded = append(expanded, clone)
			}
		default:
			expanded = append(expanded, res)
		}
	}

	return expanded, nil
}

type forEachItem struct {
	key   string
	value any
}

// forEachItems flattens the collection into ordered (key, value) pairs. Maps
// expand in sorted-key order so repeated runs produce an identical node list;
// lists keep declaration order with the stringified element as the key.
func forEachItems(res *ir.Resource) ([]forEachItem, error) {
	switch coll := res.ForEach.(type) {
	case map[string]any:
		keys := make([]string, 0, len(coll))
		for k := range coll {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		items := make([]forEachItem, 0, len(keys))
		for _, k := range keys {
			items = append(items, forEachItem{key: k, value: coll[k]})
		}
		return items, nil
	case []any:
		items := make([]forEachItem, 0, len(coll))
		for _, v := range coll {
			items = append(items, forEachItem{key: fmt.Sprintf("%v", v), value: v})
		}
		return items, nil
	default:
		return nil, fmt.Errorf("for_each on %s.%s must be a map or list, got %T", res.Type, res.Key, res.ForEach)
	}
}

func cloneResource(res *ir.Resource) *ir.Resource {
	clone := &ir.Resource{
		Type:     res.Type,
		Key:      res.Key,
		Provider: res.Provider,
		Timeout:  res.Timeout,
	}
	if res.Lifecycle != nil {
		clone.Lifecycle = &ir.Lifecycle{
			PreventDestroy: res.Lifecycle.PreventDestroy,
			IgnoreChanges:  append([]string{}, res.Lifecycle.IgnoreChanges...),
		}
	}
	clone.DependsOn = append([]string{}, res.DependsOn...)
	clone.Inputs = deepCopyMap(res.Inputs)
	return clone
}

func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	result := make(map[string]any, len(m))
	for k, v := range m {
		result[k] = deepCopyValue(v)
	}
	return result
}

func deepCopyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		clone := make([]any, len(val))
		for i, item := range val {
			clone[i] = deepCopyValue(item)
		}
		return clone
	default:
		return v
	}
}

// substituteEach binds the item into scope. A value that is exactly
// "${each.value}" takes the raw item (which may be a map of per-item
// overrides); otherwise placeholders are replaced within strings.
func substituteEach(inputs map[string]any, key string, value any) map[string]any {
	result := make(map[string]any, len(inputs))
	for k, v := range inputs {
		result[k] = substituteEachValue(v, key, value)
	}
	return result
}

func substituteEachValue(v any, key string, value any) any {
	switch val := v.(type) {
	case string:
		if val == "${each.value}" {
			return deepCopyValue(value)
		}
		val = strings.ReplaceAll(val, "${each.key}", key)
		val = strings.ReplaceAll(val, "${each.value}", fmt.Sprintf("%v", value))
		return val
	case map[string]any:
		return substituteEach(val, key, value)
	case []any:
		result := make([]any, len(val))
		for i, item := range val {
			result[i] = substituteEachValue(item, key, value)
		}
		return result
	default:
		return v
	}
}

func substituteAll(inputs map[string]any, placeholder, replacement string) map[string]any {
	result := make(map[string]any, len(inputs))
	for k, v := range inputs {
		result[k] = substituteStringValue(v, placeholder, replacement)
	}
	return result
}

func substituteStringValue(v any, placeholder, replacement string) any {
	switch val := v.(type) {
	case string:
		return strings.ReplaceAll(val, placeholder, replacement)
	case map[string]any:
		return substituteAll(val, placeholder, replacement)
	case []any:
		result := make([]any, len(val))
		for i, item := range val {
			result[i] = substituteStringValue(item, placeholder, replacement)
		}
		return result
	default:
		return v
	}
}
