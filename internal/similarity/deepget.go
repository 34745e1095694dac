package similarity

// DeepGet walks a dynamically-typed JSON value by a path of string keys and
// integer indices, returning fallback when any step is missing or the wrong
// shape. Search-engine hit payloads are a sum of optional fields, so lookups
// into them have to tolerate absent keys at every depth.
func DeepGet(value interface{}, path []interface{}, fallback interface{}) interface{} {
	current := value
	for _, step := range path {
		switch key := step.(type) {
		case string:
			m, ok := current.(map[string]interface{})
			if !ok {
				return fallback
			}
			current, ok = m[key]
			if !ok {
				return fallback
			}
		case int:
			list, ok := current.([]interface{})
			if !ok || key < 0 || key >= len(list) {
				return fallback
			}
			current = list[key]
		default:
			return fallback
		}
	}
	return current
}

// deepGetString is DeepGet narrowed to a string leaf, with "" as fallback.
func deepGetString(value interface{}, path ...interface{}) string {
	s, _ := DeepGet(value, path, "").(string)
	return s
}

// deepGetInt is DeepGet narrowed to a numeric leaf, with 0 as fallback.
// JSON numbers decode as float64, so the leaf is truncated to int.
func deepGetInt(value interface{}, path ...interface{}) int {
	f, ok := DeepGet(value, path, nil).(float64)
	if !ok {
		return 0
	}
	return int(f)
}
