package db

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collectible-market/internal/config"
)

func TestBuildPoolConfig(t *testing.T) {
	tests := []struct {
		name        string
		cfg         config.DatabaseConfig
		maxConns    int32
		minConns    int32
		lifetime    time.Duration
		lockTimeout string
	}{
		{
			name:     "defaults fill unset durations",
			cfg:      config.DatabaseConfig{PoolSize: 20},
			maxConns: 20, minConns: 5, lifetime: time.Hour,
		},
		{
			name:     "tiny pool keeps one warm connection",
			cfg:      config.DatabaseConfig{PoolSize: 2, MaxConnLifetime: 10 * time.Minute},
			maxConns: 2, minConns: 1, lifetime: 10 * time.Minute,
		},
		{
			name:     "zero pool size still allows one connection",
			cfg:      config.DatabaseConfig{},
			maxConns: 1, minConns: 1, lifetime: time.Hour,
		},
		{
			name:     "lock timeout in milliseconds",
			cfg:      config.DatabaseConfig{PoolSize: 8, LockTimeout: 1500 * time.Millisecond},
			maxConns: 8, minConns: 2, lifetime: time.Hour, lockTimeout: "1500",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.cfg.Host, tt.cfg.Port, tt.cfg.User, tt.cfg.Name = "localhost", 5432, "market", "market"

			pc, err := buildPoolConfig(&tt.cfg)
			require.NoError(t, err)
			assert.Equal(t, tt.maxConns, pc.MaxConns)
			assert.Equal(t, tt.minConns, pc.MinConns)
			assert.Equal(t, tt.lifetime, pc.MaxConnLifetime)
			assert.Equal(t, 10*time.Second, pc.ConnConfig.ConnectTimeout)
			assert.Equal(t, applicationName, pc.ConnConfig.RuntimeParams["application_name"])

			got, ok := pc.ConnConfig.RuntimeParams["lock_timeout"]
			if tt.lockTimeout == "" {
				assert.False(t, ok)
			} else {
				assert.Equal(t, tt.lockTimeout, got)
			}
		})
	}
}

func TestPoolHealth_Saturated(t *testing.T) {
	assert.True(t, PoolHealth{MaxConns: 4, Acquired: 4}.Saturated())
	assert.False(t, PoolHealth{MaxConns: 4, Acquired: 3}.Saturated())
	assert.False(t, PoolHealth{}.Saturated())
}
