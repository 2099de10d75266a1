// Package config defines configuration structures for the iconsync CLI.
//
// Configuration can be provided via:
//   - Command-line flags
//   - Environment variables (ICONSYNC_ prefix)
//   - YAML or TOML configuration file
//
// Flags override the environment, which overrides the file.
//
// # Example
//
//	output: s3://icons?region=eu-west-1
//	capacity: 16
//	max_body: 256KiB
//	variations: [outlined, rounded, reduced, sharp]
//	http:
//	  timeout: 20s
//	retry:
//	  attempts: 5
//	  backoff: 500ms
package config
