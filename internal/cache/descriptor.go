package cache

import (
	"fmt"
	"hash/fnv"
	"sort"
	"strings"
)

// Key is a stable identity derived from a request descriptor. Two descriptors
// with equal keys are treated as the same logical fetch everywhere in the
// engine: the memoizer, the persistent store and the revalidation coordinator.
type Key string

// Descriptor represents a canonical upstream request used for cache key
// generation. It carries every component that can affect the response:
// method, URL, headers and body. Which headers actually participate in the
// identity is decided by the caller through ExcludeHeaders on Fingerprint;
// headers carrying per-caller identity must either be excluded here or the
// request kept out of the cacheable class via ModeNoStore.
type Descriptor struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    string
}

// Fingerprint computes a deterministic key for the descriptor using FNV-1a.
//
// The hash is computed from a canonical representation:
//   - Headers are sorted by name for determinism.
//   - Header names listed in excludeHeaders (case-insensitive) are skipped,
//     so correlation or tracing headers never split the cache.
//   - Format: method|url|name:value|name:value|body
//
// Fingerprint has no side effects and is safe for concurrent use.
func (d Descriptor) Fingerprint(excludeHeaders ...string) Key {
	h := fnv.New64a()

	exclude := make(map[string]bool, len(excludeHeaders))
	for _, name := range excludeHeaders {
		exclude[strings.ToLower(name)] = true
	}

	method := d.Method
	if method == "" {
		method = "GET"
	}
	_, _ = h.Write([]byte(strings.ToUpper(method)))
	_, _ = h.Write([]byte("|"))

	_, _ = h.Write([]byte(d.URL))
	_, _ = h.Write([]byte("|"))

	if len(d.Headers) > 0 {
		names := make([]string, 0, len(d.Headers))
		for name := range d.Headers {
			if exclude[strings.ToLower(name)] {
				continue
			}
			names = append(names, name)
		}
		sort.Strings(names)

		parts := make([]string, 0, len(names))
		for _, name := range names {
			parts = append(parts, fmt.Sprintf("%s:%s", strings.ToLower(name), d.Headers[name]))
		}
		_, _ = h.Write([]byte(strings.Join(parts, "|")))
	}
	_, _ = h.Write([]byte("|"))

	_, _ = h.Write([]byte(d.Body))

	return Key(fmt.Sprintf("%016x", h.Sum64()))
}
