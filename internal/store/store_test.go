package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spidercast/spidercast/internal/broadcast"
	"github.com/spidercast/spidercast/internal/bus/memory"
	"github.com/spidercast/spidercast/internal/envelope"
)

const testTimestamp = int64(1700000000)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	store, err := NewWithPool(mock)
	require.NoError(t, err)
	return store, mock
}

func statusEnvelope(t *testing.T, taskID, status string, errText *string) envelope.Envelope {
	t.Helper()
	payload, err := json.Marshal(envelope.StatusPayload{Status: status, Error: errText})
	require.NoError(t, err)
	return envelope.Envelope{
		Version:     envelope.Version,
		MessageType: envelope.TypeStatus,
		TaskID:      taskID,
		Timestamp:   testTimestamp,
		Payload:     payload,
	}
}

func TestApplyStartedUpsertsTask(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	at := time.Unix(testTimestamp, 0)

	mock.ExpectExec("INSERT INTO crawl_tasks").
		WithArgs("t1", TaskRunning, at).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := store.Apply(context.Background(), statusEnvelope(t, "t1", envelope.StatusStarted, nil))
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyTerminalStatusCompletesTask(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	at := time.Unix(testTimestamp, 0)
	errText := "engine exploded"

	mock.ExpectExec("UPDATE crawl_tasks").
		WithArgs("t1", envelope.StatusError, at, &errText).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := store.Apply(context.Background(), statusEnvelope(t, "t1", envelope.StatusError, &errText))
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyProgressUpdatesCounters(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	at := time.Unix(testTimestamp, 0)
	payload, err := json.Marshal(envelope.ProgressPayload{CurrentPage: 2, TotalPages: 5})
	require.NoError(t, err)

	mock.ExpectExec("UPDATE crawl_tasks").
		WithArgs("t1", 2, 5, at).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err = store.Apply(context.Background(), envelope.Envelope{
		Version:     envelope.Version,
		MessageType: envelope.TypeProgress,
		TaskID:      "t1",
		Timestamp:   testTimestamp,
		Payload:     payload,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyResultInsertsRow(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	at := time.Unix(testTimestamp, 0)
	result := envelope.ResultPayload{
		TaskID:   "t1",
		Keywords: []string{"电影", "排名"},
		URL:      "https://example.com/a",
		Title:    "Link A",
		Source:   "example",
		DateTime: "2023-11-14T22:13:20Z",
	}
	payload, err := json.Marshal(result)
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO crawl_results").
		WithArgs("t1", result.URL, result.Title, result.Source, []byte(`["电影","排名"]`), result.DateTime, at).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err = store.Apply(context.Background(), envelope.Envelope{
		Version:     envelope.Version,
		MessageType: envelope.TypeResult,
		TaskID:      "t1",
		Timestamp:   testTimestamp,
		Payload:     payload,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyUnknownMessageType(t *testing.T) {
	t.Parallel()

	store, _ := newMockStore(t)
	err := store.Apply(context.Background(), envelope.Envelope{
		MessageType: envelope.MessageType("telemetry"),
		TaskID:      "t1",
	})
	assert.Error(t, err)
}

func TestWorkerPersistsBroadcastEnvelopes(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	b := memory.NewBus()
	worker := NewWorker(store, b, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = worker.Run(ctx) }()

	mock.ExpectExec("INSERT INTO crawl_tasks").
		WithArgs("t1", TaskRunning, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	bc := broadcast.New(b)
	require.NoError(t, bc.Status(context.Background(), "t1", envelope.StatusStarted, ""))

	require.Eventually(t, func() bool {
		return mock.ExpectationsWereMet() == nil
	}, 2*time.Second, 10*time.Millisecond)
}
