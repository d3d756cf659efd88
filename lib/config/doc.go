// Package config provides configuration management for reliable session
// hosts.
//
// # Sources
//
// Defaults() is the single source of truth for default values. InitConfig
// registers them with viper, then reads $HOME/.go-reliable/config.yaml (or
// the file named by CfgFile), writing a default file when none exists.
// CurrentConfig() returns the effective values as a ConfigDefaults.
//
// # Reloading
//
// WatchConfig re-reads the file whenever it changes on disk and hands the
// validated result to a callback. Reload can also be forced with Reload,
// which the command wires to SIGHUP. Only values read when a session
// environment is created take effect; running sessions keep the window and
// quotas they were opened with.
package config
