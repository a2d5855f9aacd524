package iec104

/*
ServerMode selects how queues and redundancy are wired on a CS104
slave, per spec.md §4.8's three server modes.
*/
type ServerMode int

const (
	// ModeSingleRedundancyGroup shares one low/high queue pair between
	// every connection; only one connection may be active at a time.
	ModeSingleRedundancyGroup ServerMode = iota
	// ModeConnectionIsRedundancyGroup gives every connection its own
	// queues; enqueued ASDUs are copied to each connection.
	ModeConnectionIsRedundancyGroup
	// ModeMultipleRedundancyGroups matches peers by IP to a configured
	// RedundancyGroup (or the catch-all), each with its own queues and
	// its own active-connection exclusivity.
	ModeMultipleRedundancyGroups
)

func (m ServerMode) String() string {
	switch m {
	case ModeSingleRedundancyGroup:
		return "single_redundancy_group"
	case ModeConnectionIsRedundancyGroup:
		return "connection_is_redundancy_group"
	case ModeMultipleRedundancyGroups:
		return "multiple_redundancy_groups"
	default:
		return "unknown"
	}
}

/*
Config carries the server tuning enumerated in spec.md §6's
configuration block, realized as a defaults struct the way
rob-gra-go-iecp5/cs104/config.go models its Config/NewConfig pair
(the teacher has no config surface at all).
*/
type Config struct {
	// MaxClientConnections bounds simultaneous peers
	// (CONFIG_CS104_MAX_CLIENT_CONNECTIONS).
	MaxClientConnections int
	// MessageQueueSize is the low-priority queue capacity in entries
	// (CONFIG_CS104_MESSAGE_QUEUE_SIZE).
	MessageQueueSize int
	// HighPrioQueueSize is the high-priority queue capacity in entries
	// (CONFIG_CS104_MESSAGE_QUEUE_HIGH_PRIO_SIZE).
	HighPrioQueueSize int
	// AllowCSTSNA1 accepts the legacy C_TS_NA_1 test command on CS104
	// (CONFIG_ALLOW_C_TS_NA_1_FOR_CS104); otherwise it is rejected with
	// COT=unknown-type-id.
	AllowCSTSNA1 bool
	// ServerMode selects the queue/redundancy wiring
	// (CONFIG_CS104_SUPPORT_SERVER_MODE_*).
	ServerMode ServerMode
}

// NewConfig returns the lib60870-C-compatible defaults.
func NewConfig() *Config {
	return &Config{
		MaxClientConnections: 10,
		MessageQueueSize:     1000,
		HighPrioQueueSize:    100,
		AllowCSTSNA1:         false,
		ServerMode:           ModeSingleRedundancyGroup,
	}
}

// newLowQueue sizes the byte arena off the entry capacity; entries are
// bounded at 256 bytes including header (spec.md §4.6) but typical
// event ASDUs run a few dozen bytes, so 64 bytes per slot keeps the
// arena from dwarfing the entry table.
func (c *Config) newLowQueue() *MessageQueue {
	return NewMessageQueue(c.MessageQueueSize*64, c.MessageQueueSize)
}

func (c *Config) newHighQueue() *HighPrioQueue {
	return NewHighPrioQueue(c.HighPrioQueueSize)
}
