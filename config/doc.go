// Package config loads deployment settings for tokenguard processes.
//
// Sources are layered: built-in defaults, then an optional config file
// (YAML, TOML or JSON through viper), then a .env file in the working
// directory, then TOKENGUARD_* environment variables. Nested keys map to
// environment names by replacing dots with underscores:
//
//	engine.jwt.access_ttl  ->  TOKENGUARD_ENGINE_JWT_ACCESS_TTL
//	redis.addr             ->  TOKENGUARD_REDIS_ADDR
//
// # Architecture boundaries
//
// Settings only describe a deployment. [Settings.EngineConfig] turns them
// into a [tokenguard.Config] by reading key files from disk; opening Redis
// or Postgres connections is left to the caller.
//
// # What this package must NOT do
//
//   - Hold key material inline in config files.
//   - Open network connections.
//   - Replace [tokenguard.Config.Validate]; struct tags only catch shape errors.
package config
