// Package config loads and validates coinsync configuration from YAML.
//
// Configuration is layered: Load parses the file and expands ${ENV}
// references, LoadWithDefaults fills optional fields, LoadAndValidate
// rejects incomplete configs. Secrets (database password, redis addr)
// are expected to arrive via environment expansion.
package config
