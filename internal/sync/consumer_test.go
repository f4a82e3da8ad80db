package sync

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/nsqio/go-nsq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubChangeHandler struct {
	calls []string
	err   error
}

func (s *stubChangeHandler) HandleChange(ctx context.Context, remoteSubscriptionID, clientState string) error {
	s.calls = append(s.calls, remoteSubscriptionID)
	return s.err
}

func newMessage(t *testing.T, n Notification) *nsq.Message {
	t.Helper()
	body, err := json.Marshal(n)
	require.NoError(t, err)
	return nsq.NewMessage(nsq.MessageID{}, body)
}

func TestConsumerDispatchesNotification(t *testing.T) {
	h := &stubChangeHandler{}
	c := NewNotificationConsumer(h)

	err := c.HandleMessage(newMessage(t, Notification{SubscriptionID: "remote-1", ClientState: "state-1"}))
	require.NoError(t, err)
	assert.Equal(t, []string{"remote-1"}, h.calls)
}

func TestConsumerRequeuesOnHandlerError(t *testing.T) {
	h := &stubChangeHandler{err: errors.New("db unavailable")}
	c := NewNotificationConsumer(h)

	err := c.HandleMessage(newMessage(t, Notification{SubscriptionID: "remote-1"}))
	assert.Error(t, err)
}

func TestConsumerDropsMalformedMessages(t *testing.T) {
	h := &stubChangeHandler{}
	c := NewNotificationConsumer(h)

	assert.NoError(t, c.HandleMessage(nsq.NewMessage(nsq.MessageID{}, []byte("{broken"))))
	assert.NoError(t, c.HandleMessage(nsq.NewMessage(nsq.MessageID{}, nil)))
	assert.NoError(t, c.HandleMessage(newMessage(t, Notification{ClientState: "no-sub-id"})))
	assert.Empty(t, h.calls)
}
