// Package config loads and validates LoxBridge configuration.
//
// Configuration is read from a YAML file, merged over hardcoded defaults,
// and finally overridden by LOXBRIDGE_* environment variables. Secrets
// (Miniserver password, MQTT password, InfluxDB token) should always come
// from the environment rather than the file.
//
// # Example
//
//	miniserver:
//	  host: "192.168.1.77"
//	  username: "admin"
//	  use_tls: true
//	  verify_tls: false
//	mqtt:
//	  enabled: true
//	  host: "localhost"
//	logging:
//	  level: "info"
//	  format: "json"
package config
