package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/streadway/amqp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	exchange string
	key      string
	msg      amqp.Publishing
}

type fakeChannel struct {
	sent   []published
	err    error
	closed bool
}

func (f *fakeChannel) Publish(exchange, key string, _, _ bool, msg amqp.Publishing) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, published{exchange: exchange, key: key, msg: msg})
	return nil
}

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}

func TestAMQPPublisher_Publish(t *testing.T) {
	ch := &fakeChannel{}
	p := &AMQPPublisher{ch: ch, exchange: "license.events"}

	licenseID := uuid.New()
	event := NewEvent(LicenseActivated, time.Date(2024, 1, 31, 12, 0, 0, 0, time.UTC))
	event.LicenseID = &licenseID
	event.Data = map[string]any{"expiration_date": "2024-03-02"}

	require.NoError(t, p.Publish(context.Background(), event))
	require.Len(t, ch.sent, 1)

	sent := ch.sent[0]
	assert.Equal(t, "license.events", sent.exchange)
	assert.Equal(t, LicenseActivated, sent.key)
	assert.Equal(t, "application/json", sent.msg.ContentType)
	assert.Equal(t, amqp.Persistent, sent.msg.DeliveryMode)
	assert.Equal(t, event.ID.String(), sent.msg.MessageId)

	var got Event
	require.NoError(t, json.Unmarshal(sent.msg.Body, &got))
	assert.Equal(t, event.ID, got.ID)
	assert.Equal(t, licenseID, *got.LicenseID)
}

func TestAMQPPublisher_PublishError(t *testing.T) {
	p := &AMQPPublisher{ch: &fakeChannel{err: errors.New("channel closed")}, exchange: "x"}

	err := p.Publish(context.Background(), NewEvent(LicenseRevoked, time.Now()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "events.Publish")
}

func TestAMQPPublisher_CancelledContext(t *testing.T) {
	ch := &fakeChannel{}
	p := &AMQPPublisher{ch: ch, exchange: "x"}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, p.Publish(ctx, NewEvent(LicenseCreated, time.Now())), context.Canceled)
	assert.Empty(t, ch.sent)
}

func TestAMQPPublisher_Close(t *testing.T) {
	ch := &fakeChannel{}
	p := &AMQPPublisher{ch: ch, exchange: "x"}
	require.NoError(t, p.Close())
	assert.True(t, ch.closed)
}

func TestNopPublisher(t *testing.T) {
	var p Publisher = NopPublisher{}
	assert.NoError(t, p.Publish(context.Background(), NewEvent(LicenseExpired, time.Now())))
	assert.NoError(t, p.Close())
}
