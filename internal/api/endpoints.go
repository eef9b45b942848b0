package api

import (
	"context"
	"encoding/json"
	"net/url"

	"GoLocShare/internal/model"
)

// NotifyRequest POST /location/notification 的请求体。
// Email优先于Username；Token将此次提交绑定到某个位置请求会话。
type NotifyRequest struct {
	Email    string       `json:"email,omitempty"`
	Username string       `json:"username,omitempty"`
	Token    string       `json:"token,omitempty"`
	Message  string       `json:"message,omitempty"`
	Location model.LatLng `json:"-"`
}

// wire格式使用"lat,lng"字符串的latlng字段
func (r NotifyRequest) MarshalJSON() ([]byte, error) {
	type wire struct {
		Email    string `json:"email,omitempty"`
		Username string `json:"username,omitempty"`
		Token    string `json:"token,omitempty"`
		Message  string `json:"message,omitempty"`
		LatLng   string `json:"latlng"`
	}
	return json.Marshal(wire{
		Email:    r.Email,
		Username: r.Username,
		Token:    r.Token,
		Message:  r.Message,
		LatLng:   r.Location.String(),
	})
}

// RequestReq POST /location/request 的请求体
type RequestReq struct {
	Email    string `json:"email,omitempty"`
	Username string `json:"username,omitempty"`
	Message  string `json:"message,omitempty"`
}

// OutgoingActivity 拉取发出的活动列表
func (c *Client) OutgoingActivity(ctx context.Context) ([]model.Session, error) {
	return c.activity(ctx, "outgoing")
}

// IncomingActivity 拉取收到的活动列表
func (c *Client) IncomingActivity(ctx context.Context) ([]model.Session, error) {
	return c.activity(ctx, "incoming")
}

func (c *Client) activity(ctx context.Context, direction string) ([]model.Session, error) {
	data, err := c.Get(ctx, "/history", url.Values{"type": {direction}})
	if err != nil {
		return nil, err
	}

	var sessions []model.Session
	if err := json.Unmarshal(data, &sessions); err != nil {
		return nil, &APIError{Code: "decode_error", Message: err.Error()}
	}
	return sessions, nil
}

// RequestDetail 拉取单个位置请求会话（含嵌套的位置事件）
func (c *Client) RequestDetail(ctx context.Context, id string) (*model.Session, error) {
	return c.detail(ctx, "/location/request/"+id)
}

// NotificationDetail 拉取单个位置通知会话
func (c *Client) NotificationDetail(ctx context.Context, id string) (*model.Session, error) {
	return c.detail(ctx, "/location/notification/"+id)
}

func (c *Client) detail(ctx context.Context, path string) (*model.Session, error) {
	data, err := c.Get(ctx, path, nil)
	if err != nil {
		return nil, err
	}

	var session model.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, &APIError{Code: "decode_error", Message: err.Error()}
	}
	session.SortNotifications()
	return &session, nil
}

// Friends 拉取好友列表，refresh为true时要求服务端刷新缓存
func (c *Client) Friends(ctx context.Context, refresh bool) ([]model.Friend, error) {
	var params url.Values
	if refresh {
		params = url.Values{"refresh": {"1"}}
	}

	data, err := c.Get(ctx, "/friends", params)
	if err != nil {
		return nil, err
	}

	var friends []model.Friend
	if err := json.Unmarshal(data, &friends); err != nil {
		return nil, &APIError{Code: "decode_error", Message: err.Error()}
	}
	return friends, nil
}

// SendNotification 推送一次位置通知，返回服务端创建的会话摘要
func (c *Client) SendNotification(ctx context.Context, req NotifyRequest) (*model.Session, error) {
	data, err := c.Post(ctx, "/location/notification", req)
	if err != nil {
		return nil, err
	}

	var session model.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, &APIError{Code: "decode_error", Message: err.Error()}
	}
	return &session, nil
}

// SendRequest 发起一次位置请求，返回服务端创建的会话摘要
func (c *Client) SendRequest(ctx context.Context, req RequestReq) (*model.Session, error) {
	data, err := c.Post(ctx, "/location/request", req)
	if err != nil {
		return nil, err
	}

	var session model.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, &APIError{Code: "decode_error", Message: err.Error()}
	}
	return &session, nil
}
