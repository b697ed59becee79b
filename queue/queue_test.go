package queue

import (
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	task, err := Decode(amqp.Delivery{
		Body:      []byte(`{"id": 42}`),
		MessageId: "8a6ee6c5-23b2-43a4-a802-b1a2b52a0e41",
	})
	require.NoError(t, err)
	require.Equal(t, int64(42), task.ID)
}

func TestDecodeRejectsBadMessages(t *testing.T) {
	_, err := Decode(amqp.Delivery{Body: []byte(`not json`), MessageId: "t"})
	require.Error(t, err)

	_, err = Decode(amqp.Delivery{Body: []byte(`{"id": 0}`), MessageId: "t"})
	require.Error(t, err)

	_, err = Decode(amqp.Delivery{Body: []byte(`{"id": 42}`)})
	require.Error(t, err)
}

func TestExpiration(t *testing.T) {
	require.Equal(t, "10000", Expiration(10*time.Second))
	require.Equal(t, "1500", Expiration(1500*time.Millisecond))
}

func TestWaitQueueArgs(t *testing.T) {
	args := waitQueueArgs("transcode")
	require.Equal(t, "", args["x-dead-letter-exchange"])
	require.Equal(t, "transcode", args["x-dead-letter-routing-key"])
}

func TestTaskQueueArgs(t *testing.T) {
	require.Nil(t, taskQueueArgs(Options{}))

	args := taskQueueArgs(Options{ConsumerTimeout: time.Hour})
	require.Equal(t, int64(3600000), args["x-consumer-timeout"])
}
