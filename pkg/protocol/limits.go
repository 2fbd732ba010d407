package protocol

// Limits bound wire message decoding. Zero values disable the check.
type Limits struct {
	// MaxMessageBytes caps a single inbound message.
	MaxMessageBytes int

	// MaxComponents caps how many component states one addition message
	// may carry.
	MaxComponents int
}

// DefaultLimits are generous enough for real documents while keeping a
// single message from ballooning session memory.
func DefaultLimits() Limits {
	return Limits{
		MaxMessageBytes: 1 << 20, // 1 MiB
		MaxComponents:   512,
	}
}
