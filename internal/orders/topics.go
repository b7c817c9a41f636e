package orders

// Default topic names; overridable via config.
const (
	TopicOrderCreated  = "order.created"
	TopicPaymentStatus = "payment.status.update"
)

// Partition key = order_id, supaya semua event 1 order maintain urutan.
func PartitionKey(orderID string) []byte { return []byte(orderID) }
