package cache

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTagIndexAssociateIsAdditiveAndIdempotent(t *testing.T) {
	idx := NewTagIndex()

	idx.Associate("k1", "products", "featured")
	idx.Associate("k1", "products")
	idx.Associate("k2", "products")

	require.ElementsMatch(t, []Key{"k1", "k2"}, idx.KeysForTag("products"))
	require.ElementsMatch(t, []string{"products", "featured"}, idx.TagsForKey("k1"))
	require.ElementsMatch(t, []string{"products"}, idx.TagsForKey("k2"))
	require.Empty(t, idx.KeysForTag("missing"))
}

func TestTagIndexBothDirectionsStayInSync(t *testing.T) {
	idx := NewTagIndex()
	idx.Associate("k1", "a", "b")
	idx.Associate("k2", "b")

	// Invariant: tag in tags(k) exactly when k in keysForTag(tag).
	for _, key := range []Key{"k1", "k2"} {
		for _, tag := range idx.TagsForKey(key) {
			require.Contains(t, idx.KeysForTag(tag), key)
		}
	}
	for _, tag := range []string{"a", "b"} {
		for _, key := range idx.KeysForTag(tag) {
			require.Contains(t, idx.TagsForKey(key), tag)
		}
	}
}

func TestTagIndexRemoveKey(t *testing.T) {
	idx := NewTagIndex()
	idx.Associate("k1", "a", "b")
	idx.Associate("k2", "b")

	idx.RemoveKey("k1")

	require.Empty(t, idx.TagsForKey("k1"))
	require.Empty(t, idx.KeysForTag("a"), "tags left without keys are dropped")
	require.ElementsMatch(t, []Key{"k2"}, idx.KeysForTag("b"))
	require.Equal(t, 1, idx.TagCount())
}

func TestTagIndexIgnoresEmptyTags(t *testing.T) {
	idx := NewTagIndex()
	idx.Associate("k1", "", "real")
	require.ElementsMatch(t, []string{"real"}, idx.TagsForKey("k1"))
}

func TestPathLabel(t *testing.T) {
	require.Equal(t, "path:/products/42", PathLabel("/products/42"))
	require.Equal(t, "path:/products", PathLabel("products"), "missing leading slash is added")
	require.Equal(t, "path:/", PathLabel(""))
}
