// Package parse summarizes captured API bodies per protocol. Every function
// here is pure and tolerant: input is an untrusted JSON object of unknown
// shape, output is a flat map of small scalars and short arrays, and missing
// or malformed fields degrade to zero values instead of failing.
//
// Token estimates are character-count / 4, an approximation meant for
// display rather than accounting.
package parse

// Summary is the output shape shared by all parsers: scalar fields plus
// short arrays, ready for JSON encoding by the API layer.
type Summary = map[string]any

// asString returns m[key] when it is a string, else "".
func asString(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

// asInt returns m[key] as an int, handling JSON's float64 representation.
func asInt(m map[string]any, key string) int {
	switch v := m[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}

// asMap returns m[key] when it is an object, else nil.
func asMap(m map[string]any, key string) map[string]any {
	sub, _ := m[key].(map[string]any)
	return sub
}

// asList returns m[key] when it is an array, else nil.
func asList(m map[string]any, key string) []any {
	list, _ := m[key].([]any)
	return list
}

// asBool returns m[key] when it is a bool, else false.
func asBool(m map[string]any, key string) bool {
	b, _ := m[key].(bool)
	return b
}

// firstMap returns the first element of a list when it is an object.
func firstMap(list []any) map[string]any {
	if len(list) == 0 {
		return nil
	}
	m, _ := list[0].(map[string]any)
	return m
}

// estimateTokens is the character-count / 4 approximation.
func estimateTokens(chars int) int {
	return chars / 4
}
