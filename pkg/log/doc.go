/*
Package log provides structured logging for nexd built on zerolog.

A single global logger is initialized once at daemon startup and packages
derive child loggers scoped to a component, a nexus or a child replica.

# Usage

Initializing at startup:

	import "github.com/nexd-io/nexd/pkg/log"

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
	})

Component-scoped logging:

	logger := log.WithComponent("dispatcher")
	logger.Info().Str("nexus", name).Msg("write fan-out complete")

Nexus and child scoped logging:

	log.WithNexus("vol-1").Warn().Msg("degraded")
	log.WithChild("file:///dev/sdb").Error().Err(err).Msg("write failed")

Console output (human readable) is the default; JSON output is intended for
production where logs are shipped to an aggregator.
*/
package log
