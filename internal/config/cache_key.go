package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// SessionSnapshotKey returns the cache key holding a session's latest snapshot.
func (r *CacheKeyStruct) SessionSnapshotKey(sessionID string) string {
	return fmt.Sprintf("session:%s:snapshot", sessionID)
}

// UserActiveSessionKey returns the cache key pointing at a user's active session.
func (r *CacheKeyStruct) UserActiveSessionKey(userID string) string {
	return fmt.Sprintf("user:%s:active_session", userID)
}

var CacheKey = NewCacheKeyStruct()
