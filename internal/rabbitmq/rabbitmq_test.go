package rabbitmq

import (
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
)

func TestFromDelivery(t *testing.T) {
	d := amqp.Delivery{
		MessageId: "O1",
		Body:      []byte(`{"x":1}`),
		Headers:   amqp.Table{"x-event-type": "OrderCreated", "x-retry": int32(2)},
	}
	m := fromDelivery("order.created", d)
	assert.Equal(t, "order.created", m.Topic)
	assert.Equal(t, []byte("O1"), m.Key)
	assert.Equal(t, map[string]string{"x-event-type": "OrderCreated"}, m.Headers)
}

func TestQueueName(t *testing.T) {
	assert.Equal(t, "payment-svc-orders.order.created", QueueName("payment-svc-orders", "order.created"))
}
