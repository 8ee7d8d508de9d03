package chat

import (
	"fmt"
	"sort"
	"time"
)

// NowUnixMilli returns current unix timestamp in milliseconds
func NowUnixMilli() int64 {
	return time.Now().UnixMilli()
}

// SortPair returns the two participant ids in canonical (ascending) order.
// A conversation stores its pair sorted so the unordered-pair uniqueness
// constraint holds regardless of who initiated it.
func SortPair(userA, userB string) (string, string) {
	if userB < userA {
		return userB, userA
	}
	return userA, userB
}

// PairKey returns the cache key for an unordered participant pair.
// Uses ":" as separator between user ids to support user ids containing "_"
func PairKey(userA, userB string) string {
	users := []string{userA, userB}
	sort.Strings(users)
	return fmt.Sprintf("%s:%s", users[0], users[1])
}
