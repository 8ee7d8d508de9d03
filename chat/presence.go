package chat

import "time"

// PresenceRecord represents a user's last heartbeat. Online-ness is always
// recomputed from the timestamp, never stored as a boolean.
type PresenceRecord struct {
	UserId          string `json:"user_id" gorm:"column:user_id;primaryKey"`
	LastHeartbeatAt int64  `json:"last_heartbeat_at" gorm:"column:last_heartbeat_at"`
	// Offline is the explicit offline-intent tag written on session stop.
	// Staleness, not this flag, is what ultimately marks a user offline.
	Offline   bool  `json:"offline" gorm:"column:offline"`
	UpdatedAt int64 `json:"updated_at" gorm:"column:updated_at"`
}

// TableName returns the table name for PresenceRecord
func (PresenceRecord) TableName() string {
	return "presence"
}

// OnlineAt derives online-ness at the given instant: the last heartbeat must
// be within threshold and no offline intent recorded since
func (r *PresenceRecord) OnlineAt(now time.Time, threshold time.Duration) bool {
	if r == nil || r.Offline {
		return false
	}
	// Clock skew can put the heartbeat slightly in the future; treat that
	// as fresh.
	age := now.UnixMilli() - r.LastHeartbeatAt
	return age <= threshold.Milliseconds()
}
