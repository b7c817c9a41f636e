package dlq

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/ariefcatur/go-order-saga/internal/bus"
	"github.com/go-redis/redismock/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestPushWritesEntry(t *testing.T) {
	db, mock := redismock.NewClientMock()
	c := New(db, zerolog.Nop())
	at := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	c.now = func() time.Time { return at }

	want, _ := json.Marshal(DLQMessage{At: at, Topic: "stock.data.sync", Key: "stock:P1", Error: "poison message: unknown dataType", Payload: json.RawMessage(`"not json"`)})
	mock.ExpectLPush("dlq:stock.data.sync", want).SetVal(1)

	c.Push(context.Background(), bus.Message{Topic: "stock.data.sync", Key: []byte("stock:P1"), Value: []byte("not json")},
		errors.New("poison message: unknown dataType"))
	require.NoError(t, mock.ExpectationsWereMet())
}
