package sendform

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"GoLocShare/internal/api"
	"GoLocShare/internal/contacts"
	"GoLocShare/internal/model"
)

type stubService struct {
	notifyReq  *api.NotifyRequest
	requestReq *api.RequestReq
	err        error
}

func (s *stubService) SendNotification(ctx context.Context, req api.NotifyRequest) (*model.Session, error) {
	s.notifyReq = &req
	if s.err != nil {
		return nil, s.err
	}
	return &model.Session{ID: "n1", Type: model.TypeNotification}, nil
}

func (s *stubService) SendRequest(ctx context.Context, req api.RequestReq) (*model.Session, error) {
	s.requestReq = &req
	if s.err != nil {
		return nil, s.err
	}
	return &model.Session{ID: "r1", Type: model.TypeRequest}, nil
}

var alice = model.Friend{Username: "alice01", Name: "Alice Chen", Email: "alice@example.com"}

func TestValidateMatrix(t *testing.T) {
	tests := []struct {
		name    string
		email   string
		friend  *model.Friend
		wantErr error
	}{
		{name: "neither", wantErr: ErrBothOrNeitherRecipient},
		{name: "both", email: "bob@example.com", friend: &alice, wantErr: ErrBothOrNeitherRecipient},
		{name: "invalid email", email: "not-an-email", wantErr: ErrInvalidEmail},
		{name: "email only", email: "bob@example.com"},
		{name: "friend only", friend: &alice},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			form := New(&stubService{}, nil)
			form.SetEmail(tt.email)
			if tt.friend != nil {
				form.SelectFriend(*tt.friend)
			}

			err := form.Validate()
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidationFailureNeverHitsBackend(t *testing.T) {
	svc := &stubService{}
	form := New(svc, nil)

	_, err := form.SubmitRequest(context.Background())
	require.ErrorIs(t, err, ErrBothOrNeitherRecipient)
	assert.Nil(t, svc.requestReq)
}

func TestSelectFriendToggle(t *testing.T) {
	form := New(&stubService{}, nil)

	form.SelectFriend(alice)
	require.NotNil(t, form.SelectedFriend())
	assert.Equal(t, "alice01", form.SelectedFriend().Username)

	// 重选同一好友即取消选中
	form.SelectFriend(alice)
	assert.Nil(t, form.SelectedFriend())

	// 换选另一好友直接替换
	form.SelectFriend(alice)
	bob := model.Friend{Username: "bob02", Name: "Bob Wang", Email: "bob@example.com"}
	form.SelectFriend(bob)
	require.NotNil(t, form.SelectedFriend())
	assert.Equal(t, "bob02", form.SelectedFriend().Username)
}

func TestFriendSubmissionSendsUsernameOnly(t *testing.T) {
	svc := &stubService{}
	form := New(svc, nil)
	form.SelectFriend(alice)

	_, err := form.SubmitRequest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "alice01", svc.requestReq.Username)
	assert.Empty(t, svc.requestReq.Email)
}

func TestEmailSubmissionSendsEmailOnly(t *testing.T) {
	svc := &stubService{}
	form := New(svc, nil)
	form.SetEmail("carol@example.com")

	_, err := form.SubmitRequest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "carol@example.com", svc.requestReq.Email)
	assert.Empty(t, svc.requestReq.Username)
}

func TestSubmitNotificationRequiresLocation(t *testing.T) {
	svc := &stubService{}
	form := New(svc, nil)
	form.SelectFriend(alice)

	_, err := form.SubmitNotification(context.Background(), nil)
	require.ErrorIs(t, err, ErrMissingLocation)
	assert.Nil(t, svc.notifyReq)
}

func TestSubmitNotificationSendsLocationAndMessage(t *testing.T) {
	svc := &stubService{}
	form := New(svc, nil)
	form.SetEmail("bob@example.com")
	form.SetMessage("here I am")
	form.SetToken("req-token")

	location := model.LatLng{Lat: 1.5, Lng: 2.5}
	session, err := form.SubmitNotification(context.Background(), &location)
	require.NoError(t, err)
	assert.Equal(t, "n1", session.ID)

	require.NotNil(t, svc.notifyReq)
	assert.Equal(t, "bob@example.com", svc.notifyReq.Email)
	assert.Equal(t, "here I am", svc.notifyReq.Message)
	assert.Equal(t, "req-token", svc.notifyReq.Token)
	assert.Equal(t, location, svc.notifyReq.Location)
}

func TestSubmitSuccessClearsFormAndRecordsContact(t *testing.T) {
	svc := &stubService{}
	recent := contacts.NewRecent(5)
	form := New(svc, recent)
	form.SelectFriend(alice)
	form.SetMessage("ping")

	_, err := form.SubmitRequest(context.Background())
	require.NoError(t, err)

	assert.Nil(t, form.SelectedFriend())
	require.Equal(t, 1, recent.Len())
	assert.Equal(t, "alice01", recent.List()[0].Username)

	// 表单已清空，直接再提交应失败
	_, err = form.SubmitRequest(context.Background())
	assert.ErrorIs(t, err, ErrBothOrNeitherRecipient)
}

func TestSubmitFailurePreservesForm(t *testing.T) {
	svc := &stubService{err: errors.New("backend down")}
	recent := contacts.NewRecent(5)
	form := New(svc, recent)
	form.SelectFriend(alice)
	form.SetMessage("ping")

	_, err := form.SubmitRequest(context.Background())
	require.Error(t, err)

	// 失败不清空表单，也不记录最近联系人
	require.NotNil(t, form.SelectedFriend())
	assert.Equal(t, 0, recent.Len())

	// 后端恢复后同一表单可以直接重试
	svc.err = nil
	_, err = form.SubmitRequest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ping", svc.requestReq.Message)
}
