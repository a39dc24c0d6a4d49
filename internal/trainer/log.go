package trainer

import "sort"

// Log is an insertion-ordered map of epoch values.
type Log struct {
	keys   []string
	values map[string]float64
}

// NewLog returns an empty log.
func NewLog() *Log {
	return &Log{values: make(map[string]float64)}
}

// Set stores value under key. Keys keep their first insertion position.
func (l *Log) Set(key string, value float64) {
	if _, ok := l.values[key]; !ok {
		l.keys = append(l.keys, key)
	}
	l.values[key] = value
}

// Get returns the value stored under key.
func (l *Log) Get(key string) (float64, bool) {
	v, ok := l.values[key]
	return v, ok
}

// Keys returns keys in insertion order.
func (l *Log) Keys() []string {
	return append([]string(nil), l.keys...)
}

// Map returns a copy of the values.
func (l *Log) Map() map[string]float64 {
	out := make(map[string]float64, len(l.values))
	for k, v := range l.values {
		out[k] = v
	}
	return out
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
