package orders

const (
	TopicOrderCreated       = "order.created"
	TopicOrderStatusChanged = "order.status.changed"
	TopicStockMovement      = "stock.movement.recorded"
)

// Partition key = aggregate id, supaya semua event 1 order (atau 1 product) tetap urut.
func PartitionKey(id string) []byte { return []byte(id) }
