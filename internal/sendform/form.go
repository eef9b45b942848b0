package sendform

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"

	"GoLocShare/internal/api"
	"GoLocShare/internal/contacts"
	"GoLocShare/internal/model"
)

// ValidationError 本地校验错误。不会发起任何网络请求。
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s", e.Reason)
}

var (
	// ErrBothOrNeitherRecipient 必须且只能指定邮箱或好友二者之一
	ErrBothOrNeitherRecipient = &ValidationError{Reason: "provide either an email or select a friend"}
	// ErrInvalidEmail 手输邮箱格式不合法
	ErrInvalidEmail = &ValidationError{Reason: "provide a valid email"}
	// ErrMissingLocation 通知提交缺少坐标
	ErrMissingLocation = &ValidationError{Reason: "current location is not available"}
)

// Service 表单提交的后端
type Service interface {
	SendNotification(ctx context.Context, req api.NotifyRequest) (*model.Session, error)
	SendRequest(ctx context.Context, req api.RequestReq) (*model.Session, error)
}

// Form 发送表单：解析收件目标（手输邮箱或选中好友）、校验并提交。
// 好友单选控件没有取消选中的原生交互，重选同一好友即取消选中。
type Form struct {
	svc    Service
	recent *contacts.Recent

	mu       sync.Mutex
	email    string
	message  string
	token    string
	selected *model.Friend
}

var validate = validator.New()

// New 创建表单
func New(svc Service, recent *contacts.Recent) *Form {
	return &Form{svc: svc, recent: recent}
}

// SetEmail 设置手输邮箱
func (f *Form) SetEmail(email string) {
	f.mu.Lock()
	f.email = email
	f.mu.Unlock()
}

// SetMessage 设置附言
func (f *Form) SetMessage(message string) {
	f.mu.Lock()
	f.message = message
	f.mu.Unlock()
}

// SetToken 设置会话令牌（针对某个位置请求提交时使用）
func (f *Form) SetToken(token string) {
	f.mu.Lock()
	f.token = token
	f.mu.Unlock()
}

// SelectFriend 选中好友。再次选中同一个好友时清除选中。
func (f *Form) SelectFriend(friend model.Friend) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.selected != nil && f.selected.Username == friend.Username {
		f.selected = nil
		return
	}
	selected := friend
	f.selected = &selected
}

// SelectedFriend 当前选中的好友，未选中返回nil
func (f *Form) SelectedFriend() *model.Friend {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.selected == nil {
		return nil
	}
	selected := *f.selected
	return &selected
}

// Validate 校验收件目标：邮箱与好友必须恰好设置其一；
// 手输邮箱必须通过格式检查。校验失败绝不触网。
func (f *Form) Validate() error {
	f.mu.Lock()
	email := f.email
	hasFriend := f.selected != nil
	f.mu.Unlock()

	hasEmail := email != ""
	if hasEmail == hasFriend {
		return ErrBothOrNeitherRecipient
	}
	if hasEmail {
		if err := validate.Var(email, "email"); err != nil {
			return ErrInvalidEmail
		}
	}
	return nil
}

// SubmitNotification 校验并推送当前位置。成功后清空表单并记录最近联系人。
func (f *Form) SubmitNotification(ctx context.Context, location *model.LatLng) (*model.Session, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	if location == nil {
		return nil, ErrMissingLocation
	}

	req := api.NotifyRequest{Location: *location}
	contact := f.fillRecipient(&req.Email, &req.Username)
	f.mu.Lock()
	req.Token = f.token
	req.Message = f.message
	f.mu.Unlock()

	session, err := f.svc.SendNotification(ctx, req)
	if err != nil {
		// 失败保留表单内容供重试
		return nil, err
	}

	f.finish(contact)
	return session, nil
}

// SubmitRequest 校验并发起位置请求。成功后清空表单并记录最近联系人。
func (f *Form) SubmitRequest(ctx context.Context) (*model.Session, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}

	var req api.RequestReq
	contact := f.fillRecipient(&req.Email, &req.Username)
	f.mu.Lock()
	req.Message = f.message
	f.mu.Unlock()

	session, err := f.svc.SendRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	f.finish(contact)
	return session, nil
}

// fillRecipient 填充收件目标并返回用于记录最近联系人的身份。
// 邮箱优先于好友。
func (f *Form) fillRecipient(email, username *string) model.Identity {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.email != "" {
		*email = f.email
		return model.Identity{Email: f.email}
	}
	*username = f.selected.Username
	return model.Identity{
		Username: f.selected.Username,
		Name:     f.selected.Name,
		Email:    f.selected.Email,
	}
}

// finish 提交成功后的清理：记录最近联系人并重置表单
func (f *Form) finish(contact model.Identity) {
	if f.recent != nil {
		f.recent.Record(contact)
	}

	f.mu.Lock()
	f.email = ""
	f.message = ""
	f.token = ""
	f.selected = nil
	f.mu.Unlock()
}
