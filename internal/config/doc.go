// Package config loads the startup configuration of provisiond.
//
// Configuration is layered, later layers winning:
//  1. Default(), the built-in values
//  2. A YAML file (provisiond.yaml in the config directory, or --config)
//  3. An optional .env file, loaded into the process environment
//  4. PROVISIOND_* environment variables
//  5. Command line flags (applied by cmd/provisiond)
//
// # Configuration File Location
//
//   - root (the normal case on a node): /etc/provisiond/provisiond.yaml
//   - otherwise: $XDG_CONFIG_HOME/provisiond/provisiond.yaml or
//     $HOME/.config/provisiond/provisiond.yaml
//
// A missing file is not an error; defaults apply.
//
// # Usage Example
//
//	cfg, err := config.Load("")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := cfg.Validate(); err != nil {
//	    log.Fatal(err)
//	}
//
// # Security
//
// The file holds the AP pre-shared key. Save writes it with mode 0600. The
// joined network's credentials live in the separate credential file, never
// here.
package config
