// Package config loads the JSON configuration consumed by marketd and
// marketctl, applying defaults and resolving relative paths against the
// configuration file location.
package config
