package hive

// State is the orchestration state of a swarm.
type State string

const (
	// StateRouting waits for user input.
	StateRouting State = "ROUTING"
	// StateStreaming produces a response, possibly calling tools.
	StateStreaming State = "STREAMING"
	// StateHandover switches the active agent.
	StateHandover State = "HANDOVER"
	// StateError reports a failure before returning to routing.
	StateError State = "ERROR"
)
