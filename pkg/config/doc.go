/*
Package config loads the nexd daemon configuration.

Configuration is resolved in three layers, later layers winning:

 1. Built-in defaults (socket path, data dir, metrics address, timeouts)
 2. YAML config file, if present
 3. NEXD_* environment variables

# Usage

	cfg, err := config.Load("/etc/nexd/nexd.yaml")
	if err != nil {
		return err
	}

A missing config file is not an error so the daemon can run with defaults
plus environment overrides, which is how it is deployed in containers.
*/
package config
