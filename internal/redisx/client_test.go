package redisx

import (
	"context"
	"errors"
	"testing"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
)

func TestPing(t *testing.T) {
	db, mock := redismock.NewClientMock()
	mock.ExpectPing().SetVal("PONG")
	assert.NoError(t, Ping(context.Background(), db))

	mock.ExpectPing().SetErr(errors.New("connection refused"))
	assert.ErrorContains(t, Ping(context.Background(), db), "redis ping")
	assert.NoError(t, mock.ExpectationsWereMet())
}
