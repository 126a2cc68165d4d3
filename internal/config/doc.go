// Package config manages the embedsrv configuration file.
//
// The file is YAML and lives in a platform-appropriate location unless a
// path is given explicitly:
//   - Linux: $XDG_CONFIG_HOME/embedsrv/config.yaml or $HOME/.config/embedsrv/config.yaml
//   - macOS: $HOME/.config/embedsrv/config.yaml
//   - Windows: %LOCALAPPDATA%\embedsrv\config.yaml
//
// # Usage Example
//
//	f, err := config.Load("")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := f.Validate(); err != nil {
//	    log.Fatal(err)
//	}
//
//	s := embedsrv.Create()
//	cfg := f.ServerConfig()
//	s.SetConfig(&cfg)
//
// Saves are atomic and serialized by a package mutex.
package config
