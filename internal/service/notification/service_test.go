package notification

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/bloodbank-api/internal/model"
	"github.com/jwalitptl/bloodbank-api/internal/repository/memory"
	"github.com/jwalitptl/bloodbank-api/pkg/logger"
	"github.com/jwalitptl/bloodbank-api/pkg/messaging"
)

type sentMail struct {
	to, subject, content string
}

type fakeEmail struct {
	sent []sentMail
	err  error
}

func (f *fakeEmail) SendCustom(_ context.Context, to, subject, content string) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentMail{to, subject, content})
	return nil
}

func TestRender(t *testing.T) {
	subject, body, err := Render(model.NotificationLowStock, map[string]string{
		"blood_type": "O-",
		"remaining":  "1",
		"threshold":  "5",
	})
	require.NoError(t, err)
	assert.Equal(t, "Low stock: O-", subject)
	assert.Contains(t, body, "Only 1 available units of O- remain (threshold 5).")

	_, _, err = Render(model.NotificationKind("fax"), nil)
	assert.Error(t, err)
}

func TestRenderMissingVarsAreBlank(t *testing.T) {
	subject, body, err := Render(model.NotificationUnitIssued, map[string]string{"unit_id": "PRC-OP-20240120-0001"})
	require.NoError(t, err)
	assert.Equal(t, "Unit PRC-OP-20240120-0001 issued", subject)
	assert.NotContains(t, body, "<no value>")
}

func TestNotifyFansOutToEveryChannel(t *testing.T) {
	store := memory.NewStore()
	mail := &fakeEmail{}
	broker := messaging.NewMemoryBroker()
	svc := NewService(store, mail, broker, logger.Nop(), nil)

	err := svc.Notify(context.Background(), "bank@example.com", model.NotificationUnitQuarantined, map[string]string{
		"unit_id":    "PRC-AP-20240120-0002",
		"blood_type": "A+",
		"screening":  "failed",
		"reason":     "HBV reactive",
	})
	require.NoError(t, err)

	require.Len(t, mail.sent, 1)
	assert.Equal(t, "bank@example.com", mail.sent[0].to)
	assert.Equal(t, "Unit PRC-AP-20240120-0002 quarantined", mail.sent[0].subject)
	assert.Contains(t, mail.sent[0].content, "HBV reactive")

	published := broker.Published(InAppTopic)
	require.Len(t, published, 1)
	var evt model.NotificationEvent
	require.NoError(t, json.Unmarshal(published[0], &evt))
	assert.Equal(t, model.NotificationUnitQuarantined, evt.Kind)
	assert.Equal(t, mail.sent[0].subject, evt.Subject)

	rows := store.Notifications()
	require.Len(t, rows, 2)
	for _, n := range rows {
		assert.Equal(t, model.NotificationStatusSent, n.Status)
		assert.NotNil(t, n.SentAt)
	}
}

func TestNotifyRecordsFailedDelivery(t *testing.T) {
	store := memory.NewStore()
	mail := &fakeEmail{err: errors.New("relay refused")}
	broker := messaging.NewMemoryBroker()
	svc := NewService(store, mail, broker, logger.Nop(), nil)

	err := svc.Notify(context.Background(), "bank@example.com", model.NotificationUnitsExpired, map[string]string{"count": "2"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "email delivery failed")

	assert.Len(t, broker.Published(InAppTopic), 1, "in-app delivery still happens")

	rows := store.Notifications()
	require.Len(t, rows, 2)
	byChannel := map[string]*model.Notification{}
	for _, n := range rows {
		byChannel[n.Channel] = n
	}
	assert.Equal(t, model.NotificationStatusFailed, byChannel[channelEmail].Status)
	assert.Equal(t, "relay refused", byChannel[channelEmail].LastError)
	assert.Nil(t, byChannel[channelEmail].SentAt)
	assert.Equal(t, model.NotificationStatusSent, byChannel[channelInApp].Status)
}

func TestNotifySkipsUnconfiguredChannels(t *testing.T) {
	store := memory.NewStore()
	svc := NewService(store, nil, nil, nil, nil)

	require.NoError(t, svc.Notify(context.Background(), "bank@example.com", model.NotificationLowStock, nil))
	assert.Empty(t, store.Notifications())

	assert.Error(t, svc.Notify(context.Background(), "", model.NotificationLowStock, nil))
}
