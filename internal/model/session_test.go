package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLatLngString(t *testing.T) {
	ll := LatLng{Lat: 37.7833, Lng: -122.4167}
	assert.Equal(t, "37.7833,-122.4167", ll.String())
}

func TestParseLatLng(t *testing.T) {
	ll, err := ParseLatLng("37.7833,-122.4167")
	require.NoError(t, err)
	assert.Equal(t, 37.7833, ll.Lat)
	assert.Equal(t, -122.4167, ll.Lng)

	// 容忍空白
	ll, err = ParseLatLng(" 1.5 , 2.5 ")
	require.NoError(t, err)
	assert.Equal(t, LatLng{Lat: 1.5, Lng: 2.5}, ll)
}

func TestParseLatLngInvalid(t *testing.T) {
	cases := []string{"", "37.78", "a,b", "1.0;2.0", "1.0,"}
	for _, input := range cases {
		_, err := ParseLatLng(input)
		assert.Error(t, err, "input %q should fail", input)
	}
}

func TestLatLngRoundTrip(t *testing.T) {
	original := LatLng{Lat: -33.865143, Lng: 151.2099}
	parsed, err := ParseLatLng(original.String())
	require.NoError(t, err)
	assert.Equal(t, original, parsed)
}

func TestDisplayName(t *testing.T) {
	withName := Identity{Name: "Alice Chen", Email: "alice@example.com"}
	assert.Equal(t, "Alice Chen", withName.DisplayName())

	emailOnly := Identity{Email: "alice@example.com"}
	assert.Equal(t, "alice@example.com", emailOnly.DisplayName())
}

func TestSortNotifications(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := &Session{
		Type: TypeRequest,
		Notifications: []LocationEvent{
			{Location: LatLng{Lat: 3}, CreatedDate: base.Add(2 * time.Minute)},
			{Location: LatLng{Lat: 1}, CreatedDate: base},
			{Location: LatLng{Lat: 2}, CreatedDate: base.Add(time.Minute)},
		},
	}

	s.SortNotifications()

	require.Len(t, s.Notifications, 3)
	assert.Equal(t, 1.0, s.Notifications[0].Location.Lat)
	assert.Equal(t, 2.0, s.Notifications[1].Location.Lat)
	assert.Equal(t, 3.0, s.Notifications[2].Location.Lat)
}

func TestMergeReplacesSnapshot(t *testing.T) {
	local := &Session{
		ID:      "s1",
		Type:    TypeRequest,
		Message: "old",
		State:   ExchangeState{Token: "tok"},
	}
	fresh := &Session{
		ID:      "s1",
		Type:    TypeRequest,
		Message: "new",
		State:   ExchangeState{Token: "tok", Complete: true},
		Notifications: []LocationEvent{
			{Location: LatLng{Lat: 1}, CreatedDate: time.Now()},
		},
	}

	local.Merge(fresh)

	assert.Equal(t, "new", local.Message)
	assert.True(t, local.Complete())
	assert.Len(t, local.Notifications, 1)
}

func TestMergeCompleteIsMonotonic(t *testing.T) {
	local := &Session{
		ID:    "s1",
		Type:  TypeNotification,
		State: ExchangeState{Complete: true},
	}

	// 服务端回退到incomplete也不会降级本地状态
	local.Merge(&Session{ID: "s1", Type: TypeNotification})

	assert.True(t, local.Complete())
}

func TestMergeSortsFreshNotifications(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	local := &Session{ID: "s1", Type: TypeRequest}

	local.Merge(&Session{
		ID:   "s1",
		Type: TypeRequest,
		Notifications: []LocationEvent{
			{Location: LatLng{Lat: 2}, CreatedDate: base.Add(time.Minute)},
			{Location: LatLng{Lat: 1}, CreatedDate: base},
		},
	})

	assert.Equal(t, 1.0, local.Notifications[0].Location.Lat)
	assert.Equal(t, 2.0, local.Notifications[1].Location.Lat)
}
