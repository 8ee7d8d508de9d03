// Package restgw implements the persistence gateway against the hosted data
// API over HTTP. Conflicts are distinguished by status 409 so the
// conversation-creation race can recover locally; 5xx and transport errors
// are marked transient for the retry path.
package restgw

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"

	"github.com/cloudwego/hertz/pkg/app/client"
	"github.com/cloudwego/hertz/pkg/protocol"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/mbeoliero/orbit/chat"
	"github.com/mbeoliero/orbit/config"
	"github.com/mbeoliero/orbit/gateway"
	"github.com/mbeoliero/orbit/pkg/jwt"
)

// Response represents the standard data-API response envelope
type Response struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Error represents a data-API error
type Error struct {
	Status int    `json:"status"`
	Code   int    `json:"code"`
	Msg    string `json:"msg"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("data api: status=%d, code=%d, msg=%s", e.Status, e.Code, e.Msg)
}

// Gateway implements gateway.Gateway over the hosted data API
type Gateway struct {
	baseURL    string
	httpClient *client.Client
	token      string
}

// New creates a Gateway, signing a service token from the configured secret
func New(cfg *config.Config) (*Gateway, error) {
	httpClient, err := client.NewClient(
		client.WithDialTimeout(cfg.REST.DialTimeout),
		client.WithClientReadTimeout(cfg.REST.RequestTimeout),
		client.WithWriteTimeout(cfg.REST.RequestTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http client: %w", err)
	}

	token := ""
	if cfg.REST.SigningSecret != "" {
		token, err = jwt.GenerateServiceToken(cfg.REST.TokenRole, cfg.REST.SigningSecret, cfg.REST.TokenTTLHours)
		if err != nil {
			return nil, fmt.Errorf("failed to sign service token: %w", err)
		}
	}

	return &Gateway{
		baseURL:    cfg.REST.BaseURL,
		httpClient: httpClient,
		token:      token,
	}, nil
}

// request makes an HTTP request and decodes the response envelope
func (g *Gateway) request(ctx context.Context, method, path string, body interface{}, result interface{}) error {
	req := &protocol.Request{}
	resp := &protocol.Response{}

	req.SetMethod(method)
	req.SetRequestURI(g.baseURL + path)
	req.Header.Set("Content-Type", "application/json")
	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}

	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		req.SetBody(jsonBody)
	}

	if err := g.httpClient.Do(ctx, req, resp); err != nil {
		// Transport-level failures are worth retrying.
		return gateway.MarkTransient(err)
	}

	status := resp.StatusCode()
	if status == consts.StatusConflict {
		return gateway.ErrConflict
	}

	var apiResp Response
	if err := json.Unmarshal(resp.Body(), &apiResp); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if status >= consts.StatusInternalServerError {
		return gateway.MarkTransient(&Error{Status: status, Code: apiResp.Code, Msg: apiResp.Msg})
	}
	if apiResp.Code != 0 {
		return &Error{Status: status, Code: apiResp.Code, Msg: apiResp.Msg}
	}

	if result != nil && len(apiResp.Data) > 0 {
		if err := json.Unmarshal(apiResp.Data, result); err != nil {
			return fmt.Errorf("failed to decode response data: %w", err)
		}
	}
	return nil
}

// get makes a GET request with query parameters
func (g *Gateway) get(ctx context.Context, path string, params map[string]string, result interface{}) error {
	if len(params) > 0 {
		query := url.Values{}
		for k, v := range params {
			query.Set(k, v)
		}
		path += "?" + query.Encode()
	}
	return g.request(ctx, consts.MethodGet, path, nil, result)
}

// post makes a POST request
func (g *Gateway) post(ctx context.Context, path string, body interface{}, result interface{}) error {
	return g.request(ctx, consts.MethodPost, path, body, result)
}

// put makes a PUT request
func (g *Gateway) put(ctx context.Context, path string, body interface{}, result interface{}) error {
	return g.request(ctx, consts.MethodPut, path, body, result)
}

// notFoundNil converts the API's not-found code into the (nil, nil) single
// row convention
func notFoundNil(err error) (bool, error) {
	if err == nil {
		return false, nil
	}
	var apiErr *Error
	if errors.As(err, &apiErr) && apiErr.Status == consts.StatusNotFound {
		return true, nil
	}
	return false, err
}

// InsertConversation inserts a conversation row with a sorted pair
func (g *Gateway) InsertConversation(ctx context.Context, conv *chat.Conversation) (*chat.Conversation, error) {
	row := *conv
	row.UserAId, row.UserBId = chat.SortPair(conv.UserAId, conv.UserBId)
	var result chat.Conversation
	if err := g.post(ctx, "/conversations", &row, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// QueryConversation gets a conversation by id
func (g *Gateway) QueryConversation(ctx context.Context, conversationId string) (*chat.Conversation, error) {
	var result chat.Conversation
	err := g.get(ctx, "/conversations/info", map[string]string{"conversation_id": conversationId}, &result)
	if missing, err := notFoundNil(err); missing || err != nil {
		return nil, err
	}
	return &result, nil
}

// QueryConversationByPair gets the conversation for an unordered pair
func (g *Gateway) QueryConversationByPair(ctx context.Context, userA, userB string) (*chat.Conversation, error) {
	a, b := chat.SortPair(userA, userB)
	var result chat.Conversation
	err := g.get(ctx, "/conversations/by_pair", map[string]string{"user_a": a, "user_b": b}, &result)
	if missing, err := notFoundNil(err); missing || err != nil {
		return nil, err
	}
	return &result, nil
}

// QueryUserConversations gets all conversations for a user
func (g *Gateway) QueryUserConversations(ctx context.Context, userId string) ([]*chat.Conversation, error) {
	var result []*chat.Conversation
	if err := g.get(ctx, "/conversations/list", map[string]string{"user_id": userId}, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// touchRequest is the body for conversation touch
type touchRequest struct {
	ConversationId string `json:"conversation_id"`
	LastMessageId  string `json:"last_message_id,omitempty"`
	LastActivityAt int64  `json:"last_activity_at"`
}

// TouchConversation bumps last activity and the last-message pointer
func (g *Gateway) TouchConversation(ctx context.Context, conversationId, lastMessageId string, at int64) error {
	return g.put(ctx, "/conversations/touch", &touchRequest{
		ConversationId: conversationId,
		LastMessageId:  lastMessageId,
		LastActivityAt: at,
	}, nil)
}

// InsertMessage inserts a message row
func (g *Gateway) InsertMessage(ctx context.Context, msg *chat.Message) (*chat.Message, error) {
	var result chat.Message
	if err := g.post(ctx, "/messages", msg, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// QueryMessage gets a message by id
func (g *Gateway) QueryMessage(ctx context.Context, messageId string) (*chat.Message, error) {
	var result chat.Message
	err := g.get(ctx, "/messages/info", map[string]string{"message_id": messageId}, &result)
	if missing, err := notFoundNil(err); missing || err != nil {
		return nil, err
	}
	return &result, nil
}

// QueryConversationMessages gets a conversation's messages in send order
func (g *Gateway) QueryConversationMessages(ctx context.Context, conversationId string) ([]*chat.Message, error) {
	var result []*chat.Message
	if err := g.get(ctx, "/messages/list", map[string]string{"conversation_id": conversationId}, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// idsRequest is the body for batched queries
type idsRequest struct {
	ConversationIds []string `json:"conversation_ids"`
	ViewerId        string   `json:"viewer_id,omitempty"`
}

// QueryLatestMessages gets the most recent non-deleted message per
// conversation in one batched call
func (g *Gateway) QueryLatestMessages(ctx context.Context, conversationIds []string) (map[string]*chat.Message, error) {
	result := make(map[string]*chat.Message)
	if len(conversationIds) == 0 {
		return result, nil
	}
	if err := g.post(ctx, "/messages/latest", &idsRequest{ConversationIds: conversationIds}, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// CountUnread counts unread messages per conversation in one batched call
func (g *Gateway) CountUnread(ctx context.Context, conversationIds []string, viewerId string) (map[string]int64, error) {
	result := make(map[string]int64)
	if len(conversationIds) == 0 {
		return result, nil
	}
	if err := g.post(ctx, "/messages/unread_count", &idsRequest{ConversationIds: conversationIds, ViewerId: viewerId}, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// markReadRequest is the body for bulk read flips
type markReadRequest struct {
	ConversationId string `json:"conversation_id"`
	ReaderId       string `json:"reader_id"`
}

// MarkMessagesRead flips unread messages not authored by the reader
func (g *Gateway) MarkMessagesRead(ctx context.Context, conversationId, readerId string) error {
	return g.post(ctx, "/messages/mark_read", &markReadRequest{
		ConversationId: conversationId,
		ReaderId:       readerId,
	}, nil)
}

// updateRequest is the body for partial message updates
type updateRequest struct {
	MessageId string             `json:"message_id"`
	Patch     *chat.MessagePatch `json:"patch"`
}

// UpdateMessage applies a partial update to a message
func (g *Gateway) UpdateMessage(ctx context.Context, messageId string, patch *chat.MessagePatch) error {
	return g.put(ctx, "/messages/update", &updateRequest{MessageId: messageId, Patch: patch}, nil)
}

// tombstoneRequest is the body for delete markers
type tombstoneRequest struct {
	MessageId string `json:"message_id"`
	ActorId   string `json:"actor_id"`
}

// InsertTombstone records a delete marker for a message
func (g *Gateway) InsertTombstone(ctx context.Context, messageId, actorId string) error {
	err := g.post(ctx, "/messages/tombstone", &tombstoneRequest{MessageId: messageId, ActorId: actorId}, nil)
	// Double delete of the same message is fine.
	if gateway.IsConflict(err) {
		return nil
	}
	return err
}

// QueryUser gets a user profile
func (g *Gateway) QueryUser(ctx context.Context, userId string) (*chat.UserInfo, error) {
	var result chat.UserInfo
	err := g.get(ctx, "/users/info", map[string]string{"user_id": userId}, &result)
	if missing, err := notFoundNil(err); missing || err != nil {
		return nil, err
	}
	return &result, nil
}

// UpsertHeartbeat writes a presence timestamp
func (g *Gateway) UpsertHeartbeat(ctx context.Context, rec *chat.PresenceRecord) error {
	return g.post(ctx, "/presence/heartbeat", rec, nil)
}

// QueryHeartbeat gets the presence record for a user
func (g *Gateway) QueryHeartbeat(ctx context.Context, userId string) (*chat.PresenceRecord, error) {
	var result chat.PresenceRecord
	err := g.get(ctx, "/presence/info", map[string]string{"user_id": userId}, &result)
	if missing, err := notFoundNil(err); missing || err != nil {
		return nil, err
	}
	return &result, nil
}

var _ gateway.Gateway = (*Gateway)(nil)
