package notify_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/tenancy-engine/notify"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func event() notify.Event {
	return notify.Event{
		Type:          notify.EventApplicationApproved,
		AgencyID:      "agency-1",
		ApplicationID: "app-1",
		DepositID:     "dep-1",
		Recipient:     "alice@example.com",
		OccurredAt:    time.Date(2025, time.March, 1, 9, 0, 0, 0, time.UTC),
	}
}

func TestRedisNotifier_PushesJSON(t *testing.T) {
	client, mock := redismock.NewClientMock()
	n := notify.NewRedisNotifier(client, "")

	data, err := json.Marshal(event())
	require.NoError(t, err)
	mock.ExpectRPush(notify.DefaultQueue, string(data)).SetVal(1)

	require.NoError(t, n.Notify(context.Background(), event()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisNotifier_PushFailure(t *testing.T) {
	client, mock := redismock.NewClientMock()
	n := notify.NewRedisNotifier(client, "mail")

	data, err := json.Marshal(event())
	require.NoError(t, err)
	mock.ExpectRPush("mail", string(data)).SetErr(errors.New("connection refused"))

	err = n.Notify(context.Background(), event())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mail")
}

type failing struct{}

func (failing) Notify(context.Context, notify.Event) error { return errors.New("smtp down") }

func TestBestEffort_LogsAndSwallows(t *testing.T) {
	// GIVEN: A notifier that always fails
	// WHEN: Delivering best-effort
	// THEN: No panic, one warning logged

	core, logs := observer.New(zap.WarnLevel)
	notify.BestEffort(context.Background(), zap.New(core), failing{}, event())

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "notification failed", logs.All()[0].Message)
}

func TestBestEffort_IgnoresCanceledCaller(t *testing.T) {
	client, mock := redismock.NewClientMock()
	data, err := json.Marshal(event())
	require.NoError(t, err)
	mock.ExpectRPush(notify.DefaultQueue, string(data)).SetVal(1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	notify.BestEffort(ctx, zap.NewNop(), notify.NewRedisNotifier(client, ""), event())

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMulti_JoinsErrors(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	m := notify.Multi{notify.NewLogNotifier(zap.New(core)), failing{}}

	err := m.Notify(context.Background(), event())
	assert.ErrorContains(t, err, "smtp down")
	assert.Equal(t, 1, logs.FilterMessage("notification").Len(), "healthy notifier still delivered")
}
