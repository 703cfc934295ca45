package config

import (
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/refmesh/refmesh/pkg/models"
)

const (
	DefaultPort                    = 4222
	DefaultRequestTimeout          = 5 * time.Second
	DefaultHeartbeatInterval       = 2 * time.Second
	DefaultLivenessTimeout         = 10 * time.Second
	DefaultReachabilityGracePeriod = 5 * time.Second
	DefaultRecordRetention         = 30 * time.Second
	DefaultSweepInterval           = time.Minute
	DefaultTombstoneRetention      = time.Hour
	DefaultEntryStripes            = 64
	environmentVariablePrefix      = "REFMESH"
)

// Default returns the configuration used when no file or environment
// overrides are present.
func Default() RefMeshConfig {
	return RefMeshConfig{
		Process: ProcessConfig{
			ID: models.NewProcessID().String(),
		},
		Transport: TransportConfig{
			Orchestrators:  []string{"nats://127.0.0.1:4222"},
			Port:           DefaultPort,
			HostServer:     false,
			RequestTimeout: DefaultRequestTimeout,
		},
		Cluster: ClusterConfig{
			HeartbeatInterval: DefaultHeartbeatInterval,
			LivenessTimeout:   DefaultLivenessTimeout,
		},
		Counter: CounterConfig{
			ReachabilityGracePeriod: DefaultReachabilityGracePeriod,
			EntryStripes:            DefaultEntryStripes,
		},
		Borrower: BorrowerConfig{
			RecordRetention: DefaultRecordRetention,
		},
		Directory: DirectoryConfig{
			SweepInterval:      DefaultSweepInterval,
			TombstoneRetention: DefaultTombstoneRetention,
		},
	}
}

// FlagKeys maps CLI flag names to the config keys they override.
var FlagKeys = map[string]string{
	"id":            ProcessIDKey,
	"orchestrators": TransportOrchestratorsKey,
	"port":          TransportPortKey,
	"host-server":   TransportHostServerKey,
	"grace-period":  ReachabilityGracePeriodKey,
}

// Load reads configuration from the given file (optional) and the
// environment, layered over the defaults. Flags bound through FlagKeys take
// precedence over everything when set; pass nil when no flags apply.
func Load(configFile string, flags *pflag.FlagSet) (RefMeshConfig, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix(environmentVariablePrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range FlagKeys {
			if f := flags.Lookup(name); f != nil && f.Changed {
				if err := v.BindPFlag(key, f); err != nil {
					return RefMeshConfig{}, models.NewBaseError("failed to bind flag %s: %s", name, err).
						WithCode(models.ConfigurationError)
				}
			}
		}
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return RefMeshConfig{}, models.NewBaseError("failed to read config file %s: %s", configFile, err).
				WithCode(models.ConfigurationError).
				WithHint("check the file exists and is valid YAML")
		}
	}

	var cfg RefMeshConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return RefMeshConfig{}, models.NewBaseError("failed to decode config: %s", err).
			WithCode(models.ConfigurationError)
	}
	if cfg.Process.ID == "" {
		cfg.Process.ID = models.NewProcessID().String()
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, cfg RefMeshConfig) {
	v.SetDefault(ProcessIDKey, cfg.Process.ID)
	v.SetDefault(TransportOrchestratorsKey, cfg.Transport.Orchestrators)
	v.SetDefault(TransportPortKey, cfg.Transport.Port)
	v.SetDefault(TransportHostServerKey, cfg.Transport.HostServer)
	v.SetDefault("Transport.RequestTimeout", cfg.Transport.RequestTimeout)
	v.SetDefault("Cluster.HeartbeatInterval", cfg.Cluster.HeartbeatInterval)
	v.SetDefault("Cluster.LivenessTimeout", cfg.Cluster.LivenessTimeout)
	v.SetDefault(ReachabilityGracePeriodKey, cfg.Counter.ReachabilityGracePeriod)
	v.SetDefault("ReferenceCounter.EntryStripes", cfg.Counter.EntryStripes)
	v.SetDefault("Borrower.RecordRetention", cfg.Borrower.RecordRetention)
	v.SetDefault("Directory.SweepInterval", cfg.Directory.SweepInterval)
	v.SetDefault("Directory.TombstoneRetention", cfg.Directory.TombstoneRetention)
}
