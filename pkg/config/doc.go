// Package config loads the cfdeploy configuration.
//
// Configuration is read from a YAML file on top of Default, then overridden
// by CFDEPLOY_ prefixed environment variables and validated with struct tags.
//
// # Sections
//
//   - controller: controller URL, OAuth2 token endpoint and request timeout
//   - clients: client registry cache size and TTL
//   - steps: step budgets by kind and the scheduler pacing
//   - store: SQLite database path
//   - tokens: memory or redis token store
//   - content: dir or minio archive storage
//   - policy: binding policy paths and hot reload
//   - telemetry: logging, tracing and metrics
//
// # Example
//
//	controller:
//	  url: https://api.sys.example.com
//	  token_url: https://login.sys.example.com/oauth/token
//	  client_id: cf
//	steps:
//	  timeouts:
//	    start-app: 15m
//	    execute-hook: 30m
//	  poll_interval: 5s
//	tokens:
//	  backend: redis
//	  redis_addr: localhost:6379
//	content:
//	  backend: minio
//	  minio:
//	    endpoint: minio.example.com:9000
//	    access_key: cfdeploy
//	    secret_key: secret
//	    bucket: uploads
//
// # Environment
//
// CFDEPLOY_CONTROLLER_URL, CFDEPLOY_TOKEN_URL, CFDEPLOY_CLIENT_ID,
// CFDEPLOY_CLIENT_SECRET, CFDEPLOY_STORE_PATH, CFDEPLOY_TOKENS_BACKEND,
// CFDEPLOY_REDIS_ADDR, CFDEPLOY_REDIS_PASSWORD, CFDEPLOY_CONTENT_DIR,
// CFDEPLOY_LOG_LEVEL, CFDEPLOY_LOG_FORMAT, CFDEPLOY_PARALLELISM and
// CFDEPLOY_SKIP_SSL_VALIDATION override the file.
package config
