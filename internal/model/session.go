package model

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// SessionType 会话类型：位置请求或位置通知
type SessionType string

const (
	TypeRequest      SessionType = "request"
	TypeNotification SessionType = "notification"
)

// LatLng 经纬度坐标
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// String 序列化为"lat,lng"格式（POST接口使用该格式）
func (ll LatLng) String() string {
	return strconv.FormatFloat(ll.Lat, 'f', -1, 64) + "," +
		strconv.FormatFloat(ll.Lng, 'f', -1, 64)
}

// ParseLatLng 解析"lat,lng"字符串
func ParseLatLng(s string) (LatLng, error) {
	parts := strings.SplitN(s, ",", 2)
	if len(parts) != 2 {
		return LatLng{}, fmt.Errorf("invalid latlng: %q", s)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return LatLng{}, fmt.Errorf("invalid latitude: %q", parts[0])
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return LatLng{}, fmt.Errorf("invalid longitude: %q", parts[1])
	}
	return LatLng{Lat: lat, Lng: lng}, nil
}

// Identity 参与方身份信息
type Identity struct {
	Username string `json:"username,omitempty"`
	Name     string `json:"name,omitempty"`
	Email    string `json:"email,omitempty"`
}

// DisplayName 显示名称，无姓名时回退到邮箱
func (i Identity) DisplayName() string {
	if i.Name != "" {
		return i.Name
	}
	return i.Email
}

// Friend 好友条目（/friends接口返回）
type Friend struct {
	Username string `json:"username"`
	Name     string `json:"name"`
	Email    string `json:"email"`
}

// LocationEvent 单次位置披露事件
type LocationEvent struct {
	Location    LatLng    `json:"location"`
	CreatedDate time.Time `json:"created_date"`
	IsWeb       bool      `json:"is_web"`
}

// ExchangeState 会话交换状态（服务端嵌套的session字段）
type ExchangeState struct {
	Key      string `json:"key,omitempty"`
	Complete bool   `json:"complete"`
	Token    string `json:"token,omitempty"`
}

// Session 一次位置请求/通知交换。服务端是唯一数据源，
// 客户端仅在视图激活期间缓存只读副本。
type Session struct {
	ID          string        `json:"id"`
	Type        SessionType   `json:"type"`
	Sender      Identity      `json:"sender"`
	Recipient   Identity      `json:"recipient"`
	CreatedDate time.Time     `json:"created_date"`
	Message     string        `json:"message,omitempty"`
	State       ExchangeState `json:"session"`

	// Location 仅notification类型有意义（创建时附带的单次位置）
	Location *LatLng `json:"location,omitempty"`

	// Notifications 仅request类型有意义，按CreatedDate升序累积
	Notifications []LocationEvent `json:"notifications,omitempty"`
}

// Complete 当前完成状态
func (s *Session) Complete() bool {
	return s.State.Complete
}

// SortNotifications 按时间升序排列位置事件
func (s *Session) SortNotifications() {
	sort.SliceStable(s.Notifications, func(i, j int) bool {
		return s.Notifications[i].CreatedDate.Before(s.Notifications[j].CreatedDate)
	})
}

// Merge 用服务端新副本覆盖本地缓存。complete单调：本地一旦为true，
// 即使新副本回退也保持true。
func (s *Session) Merge(fresh *Session) {
	wasComplete := s.State.Complete
	*s = *fresh
	if wasComplete {
		s.State.Complete = true
	}
	s.SortNotifications()
}
