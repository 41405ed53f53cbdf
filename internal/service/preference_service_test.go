package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/shaharia-lab/dealnotify/internal/storage"
	"github.com/shaharia-lab/dealnotify/internal/storage/mocks"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingEvents struct {
	types []string
}

func (r *recordingEvents) Publish(eventType string, _ map[string]string) {
	r.types = append(r.types, eventType)
}

func intPtr(v int) *int { return &v }

func plusSubscriber() *storage.Subscriber {
	return &storage.Subscriber{
		ID:             7,
		Email:          "ana@example.com",
		Tier:           storage.TierPlus,
		TelegramChatID: 99,
		Preferences: storage.Preferences{
			NotificationsEnabled: true,
			Channels:             []storage.Channel{storage.ChannelEmail, storage.ChannelTelegram},
			Tier:                 storage.TierPlus,
		},
	}
}

func TestPreferenceService_Authorization(t *testing.T) {
	store := &mocks.MockSubscriberStore{}
	svc := NewPreferenceService(store, nil, quietLogger())
	ctx := context.Background()

	_, err := svc.Get(ctx, Actor{SubscriberID: 8}, 7)
	var authErr *AuthorizationError
	assert.True(t, errors.As(err, &authErr))

	_, err = svc.Save(ctx, Actor{}, 7, PreferencesInput{})
	assert.True(t, errors.As(err, &authErr))

	_, err = svc.DisconnectChannel(ctx, Actor{SubscriberID: 1}, 7, "email")
	assert.True(t, errors.As(err, &authErr))

	store.AssertNotCalled(t, "GetSubscriber", mock.Anything, mock.Anything)
}

func TestPreferenceService_Get(t *testing.T) {
	store := &mocks.MockSubscriberStore{}
	store.On("GetSubscriber", mock.Anything, int64(7)).Return(plusSubscriber(), nil)
	store.On("GetSubscriber", mock.Anything, int64(8)).Return(nil, nil)
	svc := NewPreferenceService(store, nil, quietLogger())

	view, err := svc.Get(context.Background(), Actor{SubscriberID: 7}, 7)
	require.NoError(t, err)
	assert.Equal(t, storage.TierPlus, view.Tier)
	require.NotNil(t, view.Limits)
	assert.Equal(t, 7, view.Limits.Total)
	assert.True(t, view.Channels[storage.ChannelTelegram].Connected)
	assert.False(t, view.Channels[storage.ChannelPush].Connected)

	_, err = svc.Get(context.Background(), Actor{Admin: true}, 8)
	var nf *NotFoundError
	assert.True(t, errors.As(err, &nf))
}

func TestPreferenceService_SaveValid(t *testing.T) {
	store := &mocks.MockSubscriberStore{}
	events := &recordingEvents{}
	store.On("GetSubscriber", mock.Anything, int64(7)).Return(plusSubscriber(), nil)
	store.On("UpdatePreferences", mock.Anything, int64(7), mock.AnythingOfType("storage.Preferences")).Return(nil)
	svc := NewPreferenceService(store, events, quietLogger())

	view, err := svc.Save(context.Background(), Actor{SubscriberID: 7}, 7, PreferencesInput{
		NotificationsEnabled: true,
		Channels:             []string{"Telegram", "email", "telegram"},
		MinDiscount:          intPtr(15),
		CategoryAllowlist:    []int64{9, 7, 9},
	})
	require.NoError(t, err)

	saved := store.Calls[1].Arguments.Get(2).(storage.Preferences)
	assert.Equal(t, []storage.Channel{storage.ChannelTelegram, storage.ChannelEmail}, saved.Channels)
	assert.Equal(t, []int64{7, 9}, saved.CategoryAllowlist)
	assert.Equal(t, 15, *saved.MinDiscount)
	assert.Equal(t, saved, view.Preferences)
	assert.Equal(t, []string{EventPreferencesUpdated}, events.types)
}

func TestPreferenceService_SaveRejectsInvalidInput(t *testing.T) {
	tests := []struct {
		name  string
		sub   func() *storage.Subscriber
		input PreferencesInput
		field string
	}{
		{"unknown channel", plusSubscriber, PreferencesInput{Channels: []string{"sms"}}, "channels"},
		{
			name: "telegram not connected",
			sub: func() *storage.Subscriber {
				s := plusSubscriber()
				s.TelegramChatID = 0
				return s
			},
			input: PreferencesInput{Channels: []string{"telegram"}},
			field: "channels",
		},
		{"push not registered", plusSubscriber, PreferencesInput{Channels: []string{"push"}}, "channels"},
		{"discount below floor", plusSubscriber, PreferencesInput{MinDiscount: intPtr(5)}, "min_discount"},
		{"discount off step", plusSubscriber, PreferencesInput{MinDiscount: intPtr(33)}, "min_discount"},
		{"discount above ceiling", plusSubscriber, PreferencesInput{MinDiscount: intPtr(95)}, "min_discount"},
		{"negative category", plusSubscriber, PreferencesInput{CategoryAllowlist: []int64{3, -1}}, "category_allowlist"},
		{"zero store", plusSubscriber, PreferencesInput{StoreAllowlist: []int64{0}}, "store_allowlist"},
		{"too many categories", plusSubscriber, PreferencesInput{CategoryAllowlist: []int64{1, 2, 3, 4}}, "categories"},
		{"too many stores", plusSubscriber, PreferencesInput{StoreAllowlist: []int64{1, 2, 3, 4}}, "stores"},
		{
			name: "tier one limited to one filter",
			sub: func() *storage.Subscriber {
				s := plusSubscriber()
				s.Tier = storage.TierBasic
				return s
			},
			input: PreferencesInput{MinDiscount: intPtr(20), CategoryAllowlist: []int64{1}},
			field: "filters",
		},
		{
			name: "no tier",
			sub: func() *storage.Subscriber {
				s := plusSubscriber()
				s.Tier = storage.TierNone
				return s
			},
			input: PreferencesInput{NotificationsEnabled: true},
			field: "tier",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &mocks.MockSubscriberStore{}
			store.On("GetSubscriber", mock.Anything, int64(7)).Return(tt.sub(), nil)
			svc := NewPreferenceService(store, nil, quietLogger())

			_, err := svc.Save(context.Background(), Actor{SubscriberID: 7}, 7, tt.input)
			var ve *ValidationError
			require.True(t, errors.As(err, &ve), "got %v", err)
			assert.Equal(t, tt.field, ve.Field)
			store.AssertNotCalled(t, "UpdatePreferences", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestPreferenceService_DisconnectTelegram(t *testing.T) {
	store := &mocks.MockSubscriberStore{}
	events := &recordingEvents{}
	store.On("GetSubscriber", mock.Anything, int64(7)).Return(plusSubscriber(), nil)
	store.On("UpdatePreferences", mock.Anything, int64(7), mock.AnythingOfType("storage.Preferences")).Return(nil)
	store.On("ClearChannelIdentity", mock.Anything, int64(7), storage.ChannelTelegram).Return(nil)
	svc := NewPreferenceService(store, events, quietLogger())

	view, err := svc.DisconnectChannel(context.Background(), Actor{SubscriberID: 7}, 7, "telegram")
	require.NoError(t, err)
	assert.Equal(t, []storage.Channel{storage.ChannelEmail}, view.Preferences.Channels)
	assert.True(t, view.Preferences.NotificationsEnabled)
	assert.False(t, view.Channels[storage.ChannelTelegram].Connected)
	assert.Equal(t, []string{EventChannelDisconnected}, events.types)
	store.AssertExpectations(t)
}

func TestPreferenceService_DisconnectLastChannelDisablesNotifications(t *testing.T) {
	sub := plusSubscriber()
	sub.Preferences.Channels = nil // email by default
	store := &mocks.MockSubscriberStore{}
	store.On("GetSubscriber", mock.Anything, int64(7)).Return(sub, nil)
	store.On("UpdatePreferences", mock.Anything, int64(7), mock.MatchedBy(func(p storage.Preferences) bool {
		return len(p.Channels) == 0 && !p.NotificationsEnabled
	})).Return(nil)
	store.On("ClearChannelIdentity", mock.Anything, int64(7), storage.ChannelEmail).Return(nil)
	svc := NewPreferenceService(store, nil, quietLogger())

	_, err := svc.DisconnectChannel(context.Background(), Actor{Admin: true}, 7, "email")
	require.NoError(t, err)
	store.AssertExpectations(t)
}

func TestPreferenceService_DisconnectUnknownChannel(t *testing.T) {
	svc := NewPreferenceService(&mocks.MockSubscriberStore{}, nil, quietLogger())
	_, err := svc.DisconnectChannel(context.Background(), Actor{SubscriberID: 7}, 7, "fax")
	var ve *ValidationError
	assert.True(t, errors.As(err, &ve))
}
