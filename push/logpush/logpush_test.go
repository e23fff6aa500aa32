package logpush

import (
	"context"
	"testing"

	"notepush/model"
	"notepush/push"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSend(t *testing.T) {
	c, err := push.New(context.Background(), ProviderName, push.Config{}, zap.NewNop().Sugar())
	require.NoError(t, err)

	n := model.Notification{Title: "Note Reminder", Body: "Reminder for note: n1"}
	id, err := c.Send(context.Background(), "tok", n)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	sent := c.(*Client).Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, id, sent[0].ID)
	assert.Equal(t, n, sent[0].Notification)

	_, err = c.Send(context.Background(), "", n)
	assert.True(t, push.IsPermanent(err))
}
