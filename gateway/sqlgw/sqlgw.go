// Package sqlgw implements the persistence gateway on MySQL via gorm and
// publishes row-level change events to redis so the redisfeed package can
// serve them as a change feed.
package sqlgw

import (
	"context"
	"database/sql/driver"
	"errors"
	"net"
	"time"

	"github.com/mbeoliero/kit/log"
	"github.com/mbeoliero/orbit/chat"
	"github.com/mbeoliero/orbit/config"
	"github.com/mbeoliero/orbit/gateway"
	"github.com/mbeoliero/orbit/gateway/redisfeed"
	"github.com/mbeoliero/orbit/pkg/idgen"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Gateway implements gateway.Gateway on gorm + MySQL
type Gateway struct {
	db  *gorm.DB
	pub *redisfeed.Publisher
}

// Open connects to MySQL and redis per the config
func Open(cfg *config.Config) (*Gateway, *redis.Client, error) {
	db, err := gorm.Open(mysql.Open(cfg.MySQL.DSN()), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Warn),
		TranslateError: true,
	})
	if err != nil {
		return nil, nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, err
	}
	sqlDB.SetMaxOpenConns(cfg.MySQL.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MySQL.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Hour)

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	return New(db, redisfeed.NewPublisher(rdb, cfg.Redis.KeyPrefix)), rdb, nil
}

// New creates a Gateway on an existing gorm handle
func New(db *gorm.DB, pub *redisfeed.Publisher) *Gateway {
	return &Gateway{db: db, pub: pub}
}

// classify maps gorm errors to the gateway taxonomy. Connection-level
// failures (refused, reset, timed out, bad conn) are transient so callers
// can retry; constraint violations and everything else are permanent.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return gateway.ErrConflict
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, driver.ErrBadConn) {
		return gateway.MarkTransient(err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return gateway.MarkTransient(err)
	}
	return err
}

// InsertConversation inserts a conversation row with a sorted pair,
// assigning an id when missing
func (g *Gateway) InsertConversation(ctx context.Context, conv *chat.Conversation) (*chat.Conversation, error) {
	row := *conv
	row.UserAId, row.UserBId = chat.SortPair(conv.UserAId, conv.UserBId)
	if row.Id == "" {
		id, err := idgen.NextID()
		if err != nil {
			return nil, err
		}
		row.Id = "c_" + id
	}
	now := chat.NowUnixMilli()
	row.CreatedAt = now
	row.UpdatedAt = now
	if row.LastActivityAt == 0 {
		row.LastActivityAt = now
	}

	if err := g.db.WithContext(ctx).Create(&row).Error; err != nil {
		return nil, classify(err)
	}
	return &row, nil
}

// QueryConversation gets a conversation by id
func (g *Gateway) QueryConversation(ctx context.Context, conversationId string) (*chat.Conversation, error) {
	var conv chat.Conversation
	err := g.db.WithContext(ctx).Where("id = ?", conversationId).First(&conv).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, classify(err)
	}
	return &conv, nil
}

// QueryConversationByPair gets the conversation for an unordered pair
func (g *Gateway) QueryConversationByPair(ctx context.Context, userA, userB string) (*chat.Conversation, error) {
	a, b := chat.SortPair(userA, userB)
	var conv chat.Conversation
	err := g.db.WithContext(ctx).
		Where("user_a_id = ? AND user_b_id = ?", a, b).
		First(&conv).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, classify(err)
	}
	return &conv, nil
}

// QueryUserConversations gets all conversations for a user, most recent
// activity first
func (g *Gateway) QueryUserConversations(ctx context.Context, userId string) ([]*chat.Conversation, error) {
	var convs []*chat.Conversation
	err := g.db.WithContext(ctx).
		Where("user_a_id = ? OR user_b_id = ?", userId, userId).
		Order("last_activity_at DESC").
		Find(&convs).Error
	if err != nil {
		return nil, classify(err)
	}
	return convs, nil
}

// TouchConversation bumps last activity and the last-message pointer
func (g *Gateway) TouchConversation(ctx context.Context, conversationId, lastMessageId string, at int64) error {
	updates := map[string]interface{}{
		"last_activity_at": at,
		"updated_at":       chat.NowUnixMilli(),
	}
	if lastMessageId != "" {
		updates["last_message_id"] = lastMessageId
	}
	err := g.db.WithContext(ctx).
		Model(&chat.Conversation{}).
		Where("id = ?", conversationId).
		Updates(updates).Error
	return classify(err)
}

// InsertMessage inserts a message row and publishes the insert event
func (g *Gateway) InsertMessage(ctx context.Context, msg *chat.Message) (*chat.Message, error) {
	row := *msg
	row.Optimistic = false
	row.Author = nil
	if row.Id == "" || idgen.IsTempId(row.Id) {
		id, err := idgen.NextID()
		if err != nil {
			return nil, err
		}
		row.Id = "m_" + id
	}
	now := chat.NowUnixMilli()
	row.CreatedAt = now
	row.UpdatedAt = now
	if row.SentAt == 0 {
		row.SentAt = now
	}

	if err := g.db.WithContext(ctx).Create(&row).Error; err != nil {
		return nil, classify(err)
	}

	g.pub.PublishMessage(ctx, &redisfeed.Envelope{
		Op:             gateway.OpInsert.String(),
		MessageId:      row.Id,
		ConversationId: row.ConversationId,
		Message:        &row,
	})
	return &row, nil
}

// QueryMessage gets a message by id, nil when tombstoned or missing
func (g *Gateway) QueryMessage(ctx context.Context, messageId string) (*chat.Message, error) {
	var msg chat.Message
	err := g.db.WithContext(ctx).Where("id = ?", messageId).First(&msg).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, classify(err)
	}
	return &msg, nil
}

// QueryConversationMessages gets a conversation's messages in send order,
// excluding tombstoned ones
func (g *Gateway) QueryConversationMessages(ctx context.Context, conversationId string) ([]*chat.Message, error) {
	var msgs []*chat.Message
	err := g.db.WithContext(ctx).
		Table("messages m").
		Select("m.*").
		Joins("LEFT JOIN message_tombstones t ON t.message_id = m.id").
		Where("m.conversation_id = ? AND t.message_id IS NULL", conversationId).
		Order("m.sent_at ASC, m.id ASC").
		Scan(&msgs).Error
	if err != nil {
		return nil, classify(err)
	}
	return msgs, nil
}

// QueryLatestMessages gets the most recent non-deleted message per
// conversation with a single grouped query
func (g *Gateway) QueryLatestMessages(ctx context.Context, conversationIds []string) (map[string]*chat.Message, error) {
	result := make(map[string]*chat.Message, len(conversationIds))
	if len(conversationIds) == 0 {
		return result, nil
	}

	var msgs []*chat.Message
	err := g.db.WithContext(ctx).
		Table("messages m").
		Select("m.*").
		Joins(`JOIN (
			SELECT mm.conversation_id, MAX(mm.sent_at) AS max_sent
			FROM messages mm
			LEFT JOIN message_tombstones tt ON tt.message_id = mm.id
			WHERE mm.conversation_id IN ? AND tt.message_id IS NULL
			GROUP BY mm.conversation_id
		) x ON x.conversation_id = m.conversation_id AND x.max_sent = m.sent_at`, conversationIds).
		Joins("LEFT JOIN message_tombstones t ON t.message_id = m.id").
		Where("t.message_id IS NULL").
		Scan(&msgs).Error
	if err != nil {
		return nil, classify(err)
	}

	for _, m := range msgs {
		// Equal sent_at within a conversation: keep the first row scanned.
		if _, ok := result[m.ConversationId]; !ok {
			result[m.ConversationId] = m
		}
	}
	return result, nil
}

// unreadRow is the scan target for the grouped unread count
type unreadRow struct {
	ConversationId string `gorm:"column:conversation_id"`
	Cnt            int64  `gorm:"column:cnt"`
}

// CountUnread counts unread messages per conversation not authored by the
// viewer, batched across conversation ids
func (g *Gateway) CountUnread(ctx context.Context, conversationIds []string, viewerId string) (map[string]int64, error) {
	result := make(map[string]int64, len(conversationIds))
	if len(conversationIds) == 0 {
		return result, nil
	}

	var rows []unreadRow
	err := g.db.WithContext(ctx).
		Table("messages").
		Select("conversation_id, COUNT(*) AS cnt").
		Where("conversation_id IN ? AND sender_id <> ? AND read_flag = ?", conversationIds, viewerId, false).
		Group("conversation_id").
		Scan(&rows).Error
	if err != nil {
		return nil, classify(err)
	}

	for _, r := range rows {
		result[r.ConversationId] = r.Cnt
	}
	return result, nil
}

// MarkMessagesRead flips unread messages not authored by the reader and
// publishes an update event per affected row
func (g *Gateway) MarkMessagesRead(ctx context.Context, conversationId, readerId string) error {
	var ids []string
	err := g.db.WithContext(ctx).
		Model(&chat.Message{}).
		Where("conversation_id = ? AND sender_id <> ? AND read_flag = ?", conversationId, readerId, false).
		Pluck("id", &ids).Error
	if err != nil {
		return classify(err)
	}
	if len(ids) == 0 {
		return nil
	}

	err = g.db.WithContext(ctx).
		Model(&chat.Message{}).
		Where("id IN ?", ids).
		Updates(map[string]interface{}{
			"read_flag":  true,
			"updated_at": chat.NowUnixMilli(),
		}).Error
	if err != nil {
		return classify(err)
	}

	for _, id := range ids {
		g.pub.PublishMessage(ctx, &redisfeed.Envelope{
			Op:             gateway.OpUpdate.String(),
			MessageId:      id,
			ConversationId: conversationId,
		})
	}
	return nil
}

// UpdateMessage applies a partial update and publishes the update event
func (g *Gateway) UpdateMessage(ctx context.Context, messageId string, patch *chat.MessagePatch) error {
	updates := map[string]interface{}{"updated_at": chat.NowUnixMilli()}
	if patch.Content != nil {
		updates["content"] = *patch.Content
	}
	if patch.EditedAt != nil {
		updates["edited_at"] = *patch.EditedAt
	}
	if patch.Delivered != nil {
		updates["delivered"] = *patch.Delivered
	}
	if patch.Read != nil {
		updates["read_flag"] = *patch.Read
	}

	var row chat.Message
	if err := g.db.WithContext(ctx).Where("id = ?", messageId).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return classify(err)
	}

	err := g.db.WithContext(ctx).
		Model(&chat.Message{}).
		Where("id = ?", messageId).
		Updates(updates).Error
	if err != nil {
		return classify(err)
	}

	patch.Apply(&row)
	g.pub.PublishMessage(ctx, &redisfeed.Envelope{
		Op:             gateway.OpUpdate.String(),
		MessageId:      messageId,
		ConversationId: row.ConversationId,
		Message:        &row,
	})
	return nil
}

// InsertTombstone records a delete marker and publishes the delete event
func (g *Gateway) InsertTombstone(ctx context.Context, messageId, actorId string) error {
	row, err := g.QueryMessage(ctx, messageId)
	if err != nil {
		return err
	}

	ts := &chat.MessageTombstone{
		MessageId: messageId,
		ActorId:   actorId,
		CreatedAt: chat.NowUnixMilli(),
	}
	if err := g.db.WithContext(ctx).Create(ts).Error; err != nil {
		// A repeated delete of the same message is fine.
		if gateway.IsConflict(classify(err)) {
			return nil
		}
		return classify(err)
	}

	convId := ""
	if row != nil {
		convId = row.ConversationId
	}
	g.pub.PublishMessage(ctx, &redisfeed.Envelope{
		Op:             gateway.OpDelete.String(),
		MessageId:      messageId,
		ConversationId: convId,
	})
	return nil
}

// QueryUser gets a user profile
func (g *Gateway) QueryUser(ctx context.Context, userId string) (*chat.UserInfo, error) {
	var user chat.UserInfo
	err := g.db.WithContext(ctx).Where("id = ?", userId).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, classify(err)
	}
	return &user, nil
}

// UpsertHeartbeat writes a presence timestamp and publishes it
func (g *Gateway) UpsertHeartbeat(ctx context.Context, rec *chat.PresenceRecord) error {
	row := *rec
	row.UpdatedAt = chat.NowUnixMilli()

	err := g.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"last_heartbeat_at": row.LastHeartbeatAt,
			"offline":           row.Offline,
			"updated_at":        row.UpdatedAt,
		}),
	}).Create(&row).Error
	if err != nil {
		log.CtxWarn(ctx, "heartbeat upsert failed: user_id=%s, error=%v", rec.UserId, err)
		return classify(err)
	}

	g.pub.PublishPresence(ctx, &row)
	return nil
}

// QueryHeartbeat gets the presence record for a user
func (g *Gateway) QueryHeartbeat(ctx context.Context, userId string) (*chat.PresenceRecord, error) {
	var rec chat.PresenceRecord
	err := g.db.WithContext(ctx).Where("user_id = ?", userId).First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, classify(err)
	}
	return &rec, nil
}

var _ gateway.Gateway = (*Gateway)(nil)
