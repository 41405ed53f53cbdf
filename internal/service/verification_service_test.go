package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/shaharia-lab/dealnotify/internal/storage"
	storagemocks "github.com/shaharia-lab/dealnotify/internal/storage/mocks"
)

func newVerificationFixture(t *testing.T) (*verificationService, *storage.SQLiteSubscriberStore, *recordingEvents) {
	t.Helper()
	db, _, err := storage.NewSQLiteDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	subs := storage.NewSQLiteSubscriberStore(db)
	require.NoError(t, subs.UpsertSubscriber(context.Background(), &storage.Subscriber{
		ID:    7,
		Email: "ana@example.com",
		Tier:  storage.TierPlus,
		Preferences: storage.Preferences{
			NotificationsEnabled: true,
		},
	}))

	events := &recordingEvents{}
	svc := NewVerificationService(storage.NewSQLiteVerificationStore(db), subs, events, "deals_bot", quietLogger())
	return svc.(*verificationService), subs, events
}

func TestVerificationService_IssueAndVerify(t *testing.T) {
	svc, subs, events := newVerificationFixture(t)
	ctx := context.Background()

	issued, err := svc.IssueCode(ctx, Actor{SubscriberID: 7}, 7)
	require.NoError(t, err)
	assert.Len(t, issued.Code, VerificationCodeDigits)
	assert.Equal(t, "https://t.me/deals_bot?start="+issued.Code, issued.DeepLink)
	assert.WithinDuration(t, time.Now().Add(VerificationCodeTTL), issued.ExpiresAt, 5*time.Second)

	id, err := svc.Verify(ctx, "/start "+issued.Code, 4242, "ana")
	require.NoError(t, err)
	assert.Equal(t, int64(7), id)

	sub, err := subs.GetSubscriber(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(4242), sub.TelegramChatID)
	assert.Equal(t, "ana", sub.TelegramUsername)
	// The implicit email default is kept alongside telegram.
	assert.Equal(t, []storage.Channel{storage.ChannelEmail, storage.ChannelTelegram}, sub.Preferences.Channels)
	assert.Equal(t, []string{EventTelegramConnected}, events.types)

	// One-time use.
	_, err = svc.Verify(ctx, issued.Code, 4242, "ana")
	var conflict *ConflictError
	assert.True(t, errors.As(err, &conflict))
}

func TestVerificationService_Expired(t *testing.T) {
	svc, _, _ := newVerificationFixture(t)
	ctx := context.Background()

	issued, err := svc.IssueCode(ctx, Actor{Admin: true}, 7)
	require.NoError(t, err)

	svc.now = func() time.Time { return time.Now().Add(VerificationCodeTTL + time.Minute) }
	_, err = svc.Verify(ctx, issued.Code, 4242, "")
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "verification code expired", ve.Message)
}

func TestVerificationService_BadInput(t *testing.T) {
	svc, _, _ := newVerificationFixture(t)
	ctx := context.Background()

	var ve *ValidationError
	_, err := svc.Verify(ctx, "hello", 4242, "")
	assert.True(t, errors.As(err, &ve))

	_, err = svc.Verify(ctx, "123456", 0, "")
	assert.True(t, errors.As(err, &ve))

	var nf *NotFoundError
	_, err = svc.Verify(ctx, "654321", 4242, "")
	assert.True(t, errors.As(err, &nf))
}

func TestVerificationService_IssueCodeChecks(t *testing.T) {
	svc, _, _ := newVerificationFixture(t)
	ctx := context.Background()

	var authErr *AuthorizationError
	_, err := svc.IssueCode(ctx, Actor{SubscriberID: 8}, 7)
	assert.True(t, errors.As(err, &authErr))

	var nf *NotFoundError
	_, err = svc.IssueCode(ctx, Actor{Admin: true}, 99)
	assert.True(t, errors.As(err, &nf))
}

func TestVerificationService_IssueCodeRetriesCollisions(t *testing.T) {
	svc, _, _ := newVerificationFixture(t)
	codes := new(storagemocks.MockVerificationStore)
	svc.codes = codes

	collision := errors.New("UNIQUE constraint failed: telegram_codes.code")
	codes.On("CreateCode", mock.Anything, mock.AnythingOfType("string"), int64(7), mock.Anything).
		Return(collision).Twice()
	codes.On("CreateCode", mock.Anything, mock.AnythingOfType("string"), int64(7), mock.Anything).
		Return(nil).Once()

	issued, err := svc.IssueCode(context.Background(), Actor{SubscriberID: 7}, 7)
	require.NoError(t, err)
	assert.Len(t, issued.Code, VerificationCodeDigits)
	codes.AssertNumberOfCalls(t, "CreateCode", 3)
}

func TestVerificationService_IssueCodeGivesUp(t *testing.T) {
	svc, _, _ := newVerificationFixture(t)
	codes := new(storagemocks.MockVerificationStore)
	svc.codes = codes

	collision := errors.New("UNIQUE constraint failed: telegram_codes.code")
	codes.On("CreateCode", mock.Anything, mock.Anything, int64(7), mock.Anything).Return(collision)

	_, err := svc.IssueCode(context.Background(), Actor{SubscriberID: 7}, 7)
	require.ErrorIs(t, err, collision)
	assert.ErrorContains(t, err, "creating verification code")
	codes.AssertNumberOfCalls(t, "CreateCode", 3)
}
