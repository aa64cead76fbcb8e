package trigger

// Telemetry constants for counters
const (
	// telemetryNewCoins counts fresh listings left after exclusion and dedup
	telemetryNewCoins = "trigger.coins.new"

	// telemetryPollErrors counts failed part polls
	telemetryPollErrors = "trigger.poll.errors"
)

// Telemetry constants for timings
const (
	// telemetryPollDuration measures the time a single part poll takes
	telemetryPollDuration = "trigger.poll.duration"
)

// Telemetry constants for gauges
const (
	// telemetryTrackedCoins tracks the combined size of a venue's novelty sets
	telemetryTrackedCoins = "trigger.coins.tracked"
)
