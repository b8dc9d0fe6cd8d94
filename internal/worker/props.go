package worker

import (
	"strings"
	"sync"
)

// Process-wide runtime properties, the analogue of the interpreter's system
// property table. Populated once, strictly before hosted code runs.
var (
	propsMu sync.RWMutex
	props   = make(map[string]string)
)

// SetProperty installs one runtime property.
func SetProperty(key, value string) {
	propsMu.Lock()
	defer propsMu.Unlock()
	props[key] = value
}

// Property reads a runtime property; ok is false when unset.
func Property(key string) (value string, ok bool) {
	propsMu.RLock()
	defer propsMu.RUnlock()
	value, ok = props[key]
	return value, ok
}

// setProperties installs a list of "key=value" assignments. A leading "-D"
// on the key is tolerated and stripped. Entries without an equals sign are
// ignored.
func setProperties(assignments []string) {
	for _, a := range assignments {
		a = strings.TrimPrefix(a, "-D")
		k, v, ok := strings.Cut(a, "=")
		if !ok || k == "" {
			continue
		}
		SetProperty(k, v)
	}
}
