package cache

import (
	"strings"
	"sync"
)

// pathTagPrefix namespaces path labels so a route path and a user tag with
// the same spelling never collide.
const pathTagPrefix = "path:"

// PathLabel converts a route path into the tag every entry produced while
// rendering that path carries implicitly.
func PathLabel(path string) string {
	if path == "" {
		path = "/"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return pathTagPrefix + path
}

// TagIndex maintains the many-to-many mapping between invalidation tags and
// cache keys. Both directions are kept in sync on every mutation so that
// tag ∈ tags(k) exactly when k ∈ keysForTag(tag).
type TagIndex struct {
	mu    sync.RWMutex
	byTag map[string]map[Key]struct{}
	byKey map[Key]map[string]struct{}
}

func NewTagIndex() *TagIndex {
	return &TagIndex{
		byTag: make(map[string]map[Key]struct{}),
		byKey: make(map[Key]map[string]struct{}),
	}
}

// Associate attaches the tags to the key. Additive and idempotent: existing
// associations are kept, duplicates collapse.
func (ti *TagIndex) Associate(key Key, tags ...string) {
	if len(tags) == 0 {
		return
	}
	ti.mu.Lock()
	defer ti.mu.Unlock()
	keyTags, ok := ti.byKey[key]
	if !ok {
		keyTags = make(map[string]struct{}, len(tags))
		ti.byKey[key] = keyTags
	}
	for _, tag := range tags {
		if tag == "" {
			continue
		}
		keyTags[tag] = struct{}{}
		tagKeys, ok := ti.byTag[tag]
		if !ok {
			tagKeys = make(map[Key]struct{})
			ti.byTag[tag] = tagKeys
		}
		tagKeys[key] = struct{}{}
	}
}

// KeysForTag returns the keys currently associated with the tag.
func (ti *TagIndex) KeysForTag(tag string) []Key {
	ti.mu.RLock()
	defer ti.mu.RUnlock()
	tagKeys, ok := ti.byTag[tag]
	if !ok {
		return nil
	}
	keys := make([]Key, 0, len(tagKeys))
	for key := range tagKeys {
		keys = append(keys, key)
	}
	return keys
}

// TagsForKey returns the tags currently attached to the key.
func (ti *TagIndex) TagsForKey(key Key) []string {
	ti.mu.RLock()
	defer ti.mu.RUnlock()
	keyTags, ok := ti.byKey[key]
	if !ok {
		return nil
	}
	tags := make([]string, 0, len(keyTags))
	for tag := range keyTags {
		tags = append(tags, tag)
	}
	return tags
}

// RemoveKey drops the key from both directions of the index, keeping the
// invariant intact when an entry is removed from the store.
func (ti *TagIndex) RemoveKey(key Key) {
	ti.mu.Lock()
	defer ti.mu.Unlock()
	for tag := range ti.byKey[key] {
		delete(ti.byTag[tag], key)
		if len(ti.byTag[tag]) == 0 {
			delete(ti.byTag, tag)
		}
	}
	delete(ti.byKey, key)
}

// TagCount reports the number of distinct tags with at least one key.
func (ti *TagIndex) TagCount() int {
	ti.mu.RLock()
	defer ti.mu.RUnlock()
	return len(ti.byTag)
}
