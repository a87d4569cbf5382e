// Package config loads the filebase.yaml configuration of the filebase
// command.
//
// Values come from, in increasing priority: built-in defaults, the
// configuration file, FILEBASE_* environment variables and command line
// flags bound to the same viper instance. Nested keys use underscores in
// the environment, e.g. FILEBASE_METRICS_ENABLED=true.
//
// # Configuration File Structure
//
//	root: public
//	address: ":8080"
//	shutdown_timeout: 0s
//	trusted_proxies: ["10.0.0.0/8"]
//	templates:
//	  enabled: true
//	metrics:
//	  enabled: true
//	  path: /metrics
//	log:
//	  level: info
//	  format: json
//
// A relative root set in the configuration file is resolved against the
// directory of that file. Roots from flags, arguments or the environment
// are resolved against the working directory.
//
// # Usage
//
//	cfg, err := config.Load("")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	s, err := server.New(cfg.ServerConfig(logger))
package config
