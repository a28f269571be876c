// Package config loads and validates the process environment for the
// sharder: bot token, broker address, and the shard range this process
// owns.
package config

import (
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"golang.org/x/xerrors"
)

// maxShardTotal mirrors the wire constraint that a shard id is a u16: the
// gateway cannot be configured with more shards than fit in that range.
const maxShardTotal = 1 << 16

// Configuration is the process-level configuration read once at startup.
type Configuration struct {
	Token string

	RedisAddr string

	ShardStart uint16
	ShardUntil uint16
	ShardTotal uint64
}

// Load reads the environment (optionally seeded by a ".env" file in the
// working directory) and validates it. A missing ".env" file is not an
// error; missing or malformed environment variables are.
func Load() (Configuration, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return Configuration{}, xerrors.Errorf("config load dotenv: %w", err)
	}

	var cfg Configuration

	token, err := requireEnv("DISCORD_TOKEN")
	if err != nil {
		return Configuration{}, err
	}

	if !strings.HasPrefix(token, "Bot ") {
		token = "Bot " + token
	}

	cfg.Token = token

	redisAddr, err := requireEnv("REDIS_ADDR")
	if err != nil {
		return Configuration{}, err
	}

	if _, _, err := net.SplitHostPort(redisAddr); err != nil {
		return Configuration{}, xerrors.Errorf("config parse REDIS_ADDR %q: %w", redisAddr, err)
	}

	cfg.RedisAddr = redisAddr

	shardStart, err := requireUint16Env("DISCORD_SHARD_START")
	if err != nil {
		return Configuration{}, err
	}

	cfg.ShardStart = shardStart

	shardUntil, err := requireUint16Env("DISCORD_SHARD_UNTIL")
	if err != nil {
		return Configuration{}, err
	}

	cfg.ShardUntil = shardUntil

	shardTotal, err := requireUint64Env("DISCORD_SHARD_TOTAL")
	if err != nil {
		return Configuration{}, err
	}

	cfg.ShardTotal = shardTotal

	return cfg, cfg.Validate()
}

// Validate checks the cross-field invariants spec.md §3 and §9 require:
// 0 ≤ start ≤ until < total ≤ 2^16.
func (c Configuration) Validate() error {
	if c.ShardUntil < c.ShardStart {
		return xerrors.Errorf("config: DISCORD_SHARD_UNTIL (%d) must be >= DISCORD_SHARD_START (%d)",
			c.ShardUntil, c.ShardStart)
	}

	if c.ShardTotal > maxShardTotal {
		return xerrors.Errorf("config: DISCORD_SHARD_TOTAL (%d) exceeds maximum of %d", c.ShardTotal, maxShardTotal)
	}

	if uint64(c.ShardUntil) >= c.ShardTotal {
		return xerrors.Errorf("config: DISCORD_SHARD_UNTIL (%d) must be < DISCORD_SHARD_TOTAL (%d)",
			c.ShardUntil, c.ShardTotal)
	}

	return nil
}

func requireEnv(name string) (string, error) {
	value, ok := os.LookupEnv(name)
	if !ok || value == "" {
		return "", xerrors.Errorf("config: missing required environment variable %s", name)
	}

	return value, nil
}

func requireUint16Env(name string) (uint16, error) {
	raw, err := requireEnv(name)
	if err != nil {
		return 0, err
	}

	value, err := strconv.ParseUint(raw, 10, 16)
	if err != nil {
		return 0, xerrors.Errorf("config parse %s=%q: %w", name, raw, err)
	}

	return uint16(value), nil
}

func requireUint64Env(name string) (uint64, error) {
	raw, err := requireEnv(name)
	if err != nil {
		return 0, err
	}

	value, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, xerrors.Errorf("config parse %s=%q: %w", name, raw, err)
	}

	return value, nil
}
