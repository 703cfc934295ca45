package config

import "time"

// RefMeshConfig is the full configuration of one process.
type RefMeshConfig struct {
	Process   ProcessConfig   `mapstructure:"Process"`
	Transport TransportConfig `mapstructure:"Transport"`
	Cluster   ClusterConfig   `mapstructure:"Cluster"`
	Counter   CounterConfig   `mapstructure:"ReferenceCounter"`
	Borrower  BorrowerConfig  `mapstructure:"Borrower"`
	Directory DirectoryConfig `mapstructure:"Directory"`
}

type ProcessConfig struct {
	// ID is the process identity; autogenerated when empty.
	ID string `mapstructure:"ID"`
	// Labels are free-form placement metadata attached to the process.
	Labels map[string]string `mapstructure:"Labels"`
}

type TransportConfig struct {
	// Orchestrators is the list of NATS server URLs to connect to.
	Orchestrators []string `mapstructure:"Orchestrators"`
	// Port is the port the embedded NATS server listens on when this
	// process hosts one.
	Port int `mapstructure:"Port"`
	// HostServer starts an embedded NATS server in this process.
	HostServer bool `mapstructure:"HostServer"`
	// RequestTimeout bounds every protocol round-trip.
	RequestTimeout time.Duration `mapstructure:"RequestTimeout"`
}

type ClusterConfig struct {
	// HeartbeatInterval is how often this process re-announces itself on
	// the cluster state subject.
	HeartbeatInterval time.Duration `mapstructure:"HeartbeatInterval"`
	// LivenessTimeout is how long a peer may stay silent before this
	// process considers it dead. Must comfortably exceed the heartbeat
	// interval.
	LivenessTimeout time.Duration `mapstructure:"LivenessTimeout"`
}

type CounterConfig struct {
	// ReachabilityGracePeriod is how long the owner waits for a possibly
	// dead borrower to answer a reachability confirmation before retiring
	// its branch. Environment-tunable policy, not a protocol invariant.
	ReachabilityGracePeriod time.Duration `mapstructure:"ReachabilityGracePeriod"`
	// EntryStripes sizes the striped entry table.
	EntryStripes int `mapstructure:"EntryStripes"`
}

type BorrowerConfig struct {
	// RecordRetention is how long a retired borrower record stays around to
	// answer reachability confirmations about its sub-borrowers.
	RecordRetention time.Duration `mapstructure:"RecordRetention"`
}

type DirectoryConfig struct {
	// SweepInterval is how often evicted tombstones older than the
	// retention window are compacted away.
	SweepInterval time.Duration `mapstructure:"SweepInterval"`
	// TombstoneRetention is how long a reclaimed object's tombstone is
	// kept so late reads fail with a definite error.
	TombstoneRetention time.Duration `mapstructure:"TombstoneRetention"`
}

// Viper keys for the fields surfaced as CLI flags.
const (
	ProcessIDKey               = "Process.ID"
	TransportOrchestratorsKey  = "Transport.Orchestrators"
	TransportPortKey           = "Transport.Port"
	TransportHostServerKey     = "Transport.HostServer"
	ReachabilityGracePeriodKey = "ReferenceCounter.ReachabilityGracePeriod"
)
