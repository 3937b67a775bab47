// Package config provides configuration management for orbit clients.
//
// A ClientConfig groups every setting into sections:
//   - Connection: instance URL, API version and bearer token
//   - Performance: connection pool sizing and HTTP/2
//   - Timeouts: dial, handshake, response header and whole-request limits
//   - Reliability: client-side rate limiting and the circuit breaker
//   - Bulk: batch size ceiling, concurrency, oversized records, compression
//   - Composite: unit of work size
//   - Spool: where failed bulk batches are kept
//   - Observability: logging and tracing
//
// # Usage
//
//	cfg, err := config.LoadClientConfig("orbit.yaml")
//	if err != nil {
//		log.Fatal(err)
//	}
//	api, err := dataapi.New(cfg, logger.Get())
//
// # Environment Variable Substitution
//
// ${VAR_NAME} anywhere in the file is replaced by the variable's value before
// parsing; ${VAR_NAME:-fallback} supplies a value for unset variables.
//
//	connection:
//	  instance_url: ${SF_INSTANCE_URL}
//	  access_token: ${SF_ACCESS_TOKEN}
//	  api_version: ${SF_API_VERSION:-59.0}
//	bulk:
//	  max_bytes: 50000000
//	  concurrency: 8
//	  reject_oversized: true
//	spool:
//	  type: s3
//	  bucket: failed-batches
//	  prefix: orbit
//	  compression: zstd
//
// Sections left out keep the values from NewClientConfig.
package config
