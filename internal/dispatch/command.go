package dispatch

// Command is a named request from the host with optional arguments.
type Command struct {
	Name      string
	Arguments Arguments
}

// Arguments holds decoded call arguments. Accessors never fail: a missing or
// mistyped key yields the caller's default.
type Arguments map[string]any

// Bool returns the boolean at key, or def.
func (a Arguments) Bool(key string, def bool) bool {
	if v, ok := a[key].(bool); ok {
		return v
	}
	return def
}

// String returns the string at key, or def.
func (a Arguments) String(key, def string) string {
	if v, ok := a[key].(string); ok {
		return v
	}
	return def
}

// Int returns the number at key truncated to int, or def. JSON numbers decode
// as float64.
func (a Arguments) Int(key string, def int) int {
	switch v := a[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return def
	}
}
