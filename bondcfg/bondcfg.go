// Package bondcfg loads and validates the configuration table from
// spec.md §6, following main.go's flag + flagx.ArgsFromEnv + rtx.Must
// startup sequence almost verbatim in idiom.
package bondcfg

import (
	"flag"

	"github.com/m-lab/go/flagx"

	"github.com/srtlabond/bond/bonderrors"
)

// Config holds every input from spec.md §6's configuration table.
type Config struct {
	ServerHost string
	ServerPort int
	LocalPort  int

	StickinessEnabled      bool
	QualityScoringEnabled  bool
	NetworkPriorityEnabled bool
	ExplorationEnabled     bool
	ClassicMode            bool
}

var (
	serverHost  = flag.String("server-host", "", "FQDN or literal address of the aggregation server")
	serverPort  = flag.Int("server-port", 5000, "UDP port on the aggregation server")
	localPort   = flag.Int("local-port", 6000, "UDP port for incoming SRT from the local source")
	stickiness  = flag.Bool("stickiness", true, "Enable selector stickiness (minimum switch interval)")
	quality     = flag.Bool("quality-scoring", true, "Enable selector quality-weighted penalties")
	priority    = flag.Bool("network-priority", true, "Enable selector per-transport-type priority scaling")
	exploration = flag.Bool("exploration", true, "Enable selector exploration phase")
	classic     = flag.Bool("classic-mode", false, "Disable all scheduler steps beyond base score")
)

// Load parses flags (applying environment-variable overrides the way
// main.go does via flagx.ArgsFromEnv) and validates the result. Callers
// must call flag.Parse() before Load, matching main.go's sequence.
func Load() (*Config, error) {
	flagx.ArgsFromEnv(flag.CommandLine)

	cfg := &Config{
		ServerHost:             *serverHost,
		ServerPort:             *serverPort,
		LocalPort:              *localPort,
		StickinessEnabled:      *stickiness,
		QualityScoringEnabled:  *quality,
		NetworkPriorityEnabled: *priority,
		ExplorationEnabled:     *exploration,
		ClassicMode:            *classic,
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the host/port fields spec.md §7's ConfigurationError
// kind covers: a missing host, or a port outside [1, 65535].
func (c *Config) Validate() error {
	if c.ServerHost == "" {
		return bonderrors.NewConfigurationError("server-host", "must not be empty")
	}
	if c.ServerPort < 1 || c.ServerPort > 65535 {
		return bonderrors.NewConfigurationError("server-port", "must be in [1, 65535]")
	}
	if c.LocalPort < 1 || c.LocalPort > 65535 {
		return bonderrors.NewConfigurationError("local-port", "must be in [1, 65535]")
	}
	return nil
}
