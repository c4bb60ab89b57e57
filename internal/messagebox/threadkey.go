package messagebox

import (
	"strconv"
	"strings"
)

// Thread keys encode a message's position in the thread hierarchy:
//
//	root:   "1000|"
//	reply:  "1000#1010|"
//	nested: "1000#1010#1020|"
//
// The key begins with the root message's created timestamp and appends
// "#<created>" per nesting level, terminated by "|". Reverse lexicographic
// order over these keys yields most-recent-root-first traversal with
// descendants nested immediately after their parent; it is the sole sort key
// for pagination.

// RootThreadKey builds the key of a root message.
func RootThreadKey(created int64) string {
	return strconv.FormatInt(created, 10) + "|"
}

// ReplyThreadKey derives a child key from its parent's key.
func ReplyThreadKey(parentKey string, created int64) string {
	return strings.TrimSuffix(parentKey, "|") + "#" + strconv.FormatInt(created, 10) + "|"
}

// Level is the nesting depth: the number of '#' separators in the key.
func Level(threadKey string) int {
	return strings.Count(threadKey, "#")
}

// ReplyTo extracts the parent's created timestamp: the second-to-last
// timestamp in the hierarchy, or 0 for a root message.
func ReplyTo(threadKey string) int64 {
	parts := strings.Split(strings.TrimSuffix(threadKey, "|"), "#")
	if len(parts) < 2 {
		return 0
	}
	ts, err := strconv.ParseInt(parts[len(parts)-2], 10, 64)
	if err != nil {
		return 0
	}
	return ts
}

// Created extracts the message's own timestamp, the last in the key.
func Created(threadKey string) int64 {
	parts := strings.Split(strings.TrimSuffix(threadKey, "|"), "#")
	ts, err := strconv.ParseInt(parts[len(parts)-1], 10, 64)
	if err != nil {
		return 0
	}
	return ts
}

// DescendantPrefix is the prefix every descendant key of threadKey carries.
func DescendantPrefix(threadKey string) string {
	return strings.TrimSuffix(threadKey, "|") + "#"
}

// IsDescendant reports whether candidate nests under threadKey.
func IsDescendant(threadKey, candidate string) bool {
	return strings.HasPrefix(candidate, DescendantPrefix(threadKey))
}
