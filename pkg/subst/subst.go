// Package subst holds the <KEY> -> value substitution variables used when
// expanding run paths, job names and forward-model arguments.
package subst

import (
	"sort"
	"strings"
	"sync"
)

// List is a concurrency-safe set of substitution variables. Keys include
// their angle brackets, e.g. "<ERTCASE>".
type List struct {
	mu     sync.RWMutex
	values map[string]string
	docs   map[string]string
	parent *List
}

// New creates an empty list
func New() *List {
	return &List{
		values: make(map[string]string),
		docs:   make(map[string]string),
	}
}

// Child creates a list that falls back to l for keys it does not define.
// Per-member expansions use a child so they never leak into the shared list.
func (l *List) Child() *List {
	c := New()
	c.parent = l
	return c
}

// Set installs or replaces key
func (l *List) Set(key, value, doc string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.values[key] = value
	if doc != "" {
		l.docs[key] = doc
	}
}

// Get returns the value of key, consulting the parent chain
func (l *List) Get(key string) (string, bool) {
	l.mu.RLock()
	v, ok := l.values[key]
	l.mu.RUnlock()
	if ok {
		return v, true
	}
	if l.parent != nil {
		return l.parent.Get(key)
	}
	return "", false
}

// Keys returns all visible keys in sorted order
func (l *List) Keys() []string {
	seen := make(map[string]struct{})
	for cur := l; cur != nil; cur = cur.parent {
		cur.mu.RLock()
		for k := range cur.values {
			seen[k] = struct{}{}
		}
		cur.mu.RUnlock()
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Substitute replaces every known key occurring in s
func (l *List) Substitute(s string) string {
	keys := l.Keys()
	if len(keys) == 0 || !strings.Contains(s, "<") {
		return s
	}
	// Longest keys first so "<ERT-CASE>" never loses to a shorter prefix key.
	sort.SliceStable(keys, func(i, j int) bool { return len(keys[i]) > len(keys[j]) })
	pairs := make([]string, 0, 2*len(keys))
	for _, k := range keys {
		v, _ := l.Get(k)
		pairs = append(pairs, k, v)
	}
	return strings.NewReplacer(pairs...).Replace(s)
}
