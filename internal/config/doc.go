// Package config loads the GatewayHMA configuration from a YAML (or JSON)
// file, applies GATEWAY_* environment overrides and fills defaults relative
// to the configuration file's directory.
package config
