package trade

// Telemetry constants for counters
const (
	// telemetryCoinsRouted counts coins accepted into the buy fan-out
	telemetryCoinsRouted = "trade.coins.routed"

	// telemetryOrdersPlaced counts buy orders the venues accepted
	telemetryOrdersPlaced = "trade.orders.placed"

	// telemetryOrdersFailed counts order submissions the venues rejected
	telemetryOrdersFailed = "trade.orders.failed"

	// telemetryOrdersCancelled counts delayed cancels that went through
	telemetryOrdersCancelled = "trade.orders.cancelled"
)

// Telemetry constants for spans
const (
	// telemetrySpanProcessCoin represents the whole fan-out for one coin
	telemetrySpanProcessCoin = "trade.processCoin"
)
