package telegram

import (
	"context"
	"testing"
	"time"

	"notepush/model"
	"notepush/push"

	tg "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeBot struct {
	sent  []tg.MessageConfig
	err   error
	block chan struct{}
}

func (b *fakeBot) Send(c tg.Chattable) (tg.Message, error) {
	if b.block != nil {
		<-b.block
	}
	if b.err != nil {
		return tg.Message{}, b.err
	}
	b.sent = append(b.sent, c.(tg.MessageConfig))
	return tg.Message{MessageID: 42}, nil
}

var note = model.Notification{
	Title: "Note Reminder",
	Body:  "Groceries: milk & <eggs>",
	Data:  map[string]string{"url": "/editor?id=n1", "note_id": "n1"},
}

func TestSend(t *testing.T) {
	b := &fakeBot{}
	c := newClient(b, zap.NewNop().Sugar())

	id, err := c.Send(context.Background(), "12345", note)
	require.NoError(t, err)
	assert.Equal(t, "42", id)

	require.Len(t, b.sent, 1)
	assert.Equal(t, int64(12345), b.sent[0].ChatID)
	assert.Equal(t, tg.ModeHTML, b.sent[0].ParseMode)
	assert.Equal(t, "<b>Note Reminder</b>\nGroceries: milk &amp; &lt;eggs&gt;", b.sent[0].Text)
}

func TestSendMalformedChatIsPermanent(t *testing.T) {
	c := newClient(&fakeBot{}, zap.NewNop().Sugar())
	_, err := c.Send(context.Background(), "not-a-chat", note)
	assert.True(t, push.IsPermanent(err))
}

func TestSendClassifiesErrors(t *testing.T) {
	cases := []struct {
		err       error
		permanent bool
	}{
		{&tg.Error{Code: 403, Message: "Forbidden: bot was blocked by the user"}, true},
		{&tg.Error{Code: 400, Message: "Bad Request: chat not found"}, true},
		{&tg.Error{Code: 400, Message: "Bad Request: message is too long"}, false},
		{&tg.Error{Code: 429, Message: "Too Many Requests: retry after 5"}, false},
		{&tg.Error{Code: 502, Message: "Bad Gateway"}, false},
		{errors.New("connection reset by peer"), false},
	}
	for _, tc := range cases {
		c := newClient(&fakeBot{err: tc.err}, zap.NewNop().Sugar())
		_, err := c.Send(context.Background(), "1", note)
		require.Error(t, err)
		assert.Equalf(t, tc.permanent, push.IsPermanent(err), "%v", tc.err)
	}
}

func TestSendRateLimitIsThrottled(t *testing.T) {
	c := newClient(&fakeBot{err: &tg.Error{Code: 429, Message: "Too Many Requests: retry after 5"}}, zap.NewNop().Sugar())
	_, err := c.Send(context.Background(), "1", note)
	require.Error(t, err)
	assert.True(t, push.IsThrottled(err))

	c = newClient(&fakeBot{err: &tg.Error{Code: 502, Message: "Bad Gateway"}}, zap.NewNop().Sugar())
	_, err = c.Send(context.Background(), "1", note)
	assert.False(t, push.IsThrottled(err))
}

func TestHTTPClientTimeout(t *testing.T) {
	assert.Equal(t, defaultRequestTimeout, httpClient(push.Config{}).Timeout)
	assert.Equal(t, 3*time.Second, httpClient(push.Config{RequestTimeout: 3 * time.Second}).Timeout)
}

func TestSendHonorsContext(t *testing.T) {
	b := &fakeBot{block: make(chan struct{})}
	defer close(b.block)
	c := newClient(b, zap.NewNop().Sugar())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := c.Send(ctx, "1", note)
	require.Error(t, err)
	assert.False(t, push.IsPermanent(err))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}
