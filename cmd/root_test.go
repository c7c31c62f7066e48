package cmd

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bwprobe/internal/runner"
)

func TestConfigFromViperDefaults(t *testing.T) {
	v := viper.New()
	require.NoError(t, v.BindPFlags(rootCmd.Flags()))

	cfg := configFromViper(v)
	d := runner.DefaultConfig()

	assert.Empty(t, cfg.URLs)
	assert.Equal(t, d.Concurrency, cfg.Concurrency)
	assert.Equal(t, d.Cycles, cfg.Cycles)
	assert.Equal(t, d.RotateAfter, cfg.RotateAfter)
	assert.Equal(t, d.Timeout, cfg.Timeout)
	assert.Equal(t, d.Retry, cfg.Retry)
	assert.Equal(t, d.Pick, cfg.Pick)
	assert.Zero(t, cfg.Duration)
	assert.Zero(t, cfg.LimitMbps)
}

func TestConfigFromViperOverrides(t *testing.T) {
	v := viper.New()
	require.NoError(t, v.BindPFlags(rootCmd.Flags()))

	v.Set("url", []string{"http://a/1.bin", "http://b/1.bin"})
	v.Set("threads", 8)
	v.Set("duration", 30)
	v.Set("interval", 60)
	v.Set("cycles", 0)
	v.Set("limit", 25.5)
	v.Set("rotate-after", 16)
	v.Set("pick", "Sequential")
	v.Set("retries", 5)
	v.Set("backoff", "250ms")

	cfg := configFromViper(v)

	assert.Equal(t, []string{"http://a/1.bin", "http://b/1.bin"}, cfg.URLs)
	assert.Equal(t, 8, cfg.Concurrency)
	assert.Equal(t, 30*time.Second, cfg.Duration)
	assert.Equal(t, time.Minute, cfg.Interval)
	assert.Zero(t, cfg.Cycles)
	assert.Equal(t, 25.5, cfg.LimitMbps)
	assert.EqualValues(t, 16<<20, cfg.RotateAfter)
	assert.Equal(t, runner.PickSequential, cfg.Pick)
	assert.Equal(t, 5, cfg.Retry.MaxRetries)
	assert.Equal(t, 250*time.Millisecond, cfg.Retry.BaseDelay)

	require.NoError(t, cfg.Normalize().Validate())
}

func TestNewLogger(t *testing.T) {
	log, err := newLogger("debug", false)
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, log.GetLevel())

	_, err = newLogger("loud", false)
	assert.ErrorIs(t, err, runner.ErrInvalidConfig)
}
