package chat

// UserInfo represents public user profile info
type UserInfo struct {
	Id        string  `json:"id" gorm:"column:id;primaryKey"`
	Nickname  string  `json:"nickname" gorm:"column:nickname"`
	Avatar    string  `json:"avatar" gorm:"column:avatar"`
	Extra     *string `json:"extra,omitempty" gorm:"column:extra;type:json"`
	CreatedAt int64   `json:"created_at" gorm:"column:created_at"`
}

// TableName returns the table name for UserInfo
func (UserInfo) TableName() string {
	return "users"
}
