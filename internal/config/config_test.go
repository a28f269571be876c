package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfiguration_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Configuration
		wantErr bool
	}{
		{
			name: "single shard is valid",
			cfg:  Configuration{ShardStart: 0, ShardUntil: 0, ShardTotal: 1},
		},
		{
			name: "contiguous range is valid",
			cfg:  Configuration{ShardStart: 0, ShardUntil: 1, ShardTotal: 4},
		},
		{
			name:    "until before start is invalid",
			cfg:     Configuration{ShardStart: 2, ShardUntil: 1, ShardTotal: 4},
			wantErr: true,
		},
		{
			name:    "until equal to total is invalid",
			cfg:     Configuration{ShardStart: 0, ShardUntil: 4, ShardTotal: 4},
			wantErr: true,
		},
		{
			name:    "total exceeding u16 range is invalid",
			cfg:     Configuration{ShardStart: 0, ShardUntil: 0, ShardTotal: maxShardTotal + 1},
			wantErr: true,
		},
		{
			name: "total at the u16 boundary is valid",
			cfg:  Configuration{ShardStart: 0, ShardUntil: 0, ShardTotal: maxShardTotal},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoad_MissingEnv(t *testing.T) {
	t.Setenv("DISCORD_TOKEN", "")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_NormalisesTokenPrefix(t *testing.T) {
	t.Setenv("DISCORD_TOKEN", "abc123")
	t.Setenv("REDIS_ADDR", "127.0.0.1:6379")
	t.Setenv("DISCORD_SHARD_START", "0")
	t.Setenv("DISCORD_SHARD_UNTIL", "1")
	t.Setenv("DISCORD_SHARD_TOTAL", "4")

	cfg, err := Load()
	assert.NoError(t, err)
	assert.Equal(t, "Bot abc123", cfg.Token)

	t.Setenv("DISCORD_TOKEN", "Bot abc123")

	cfg, err = Load()
	assert.NoError(t, err)
	assert.Equal(t, "Bot abc123", cfg.Token)
}
