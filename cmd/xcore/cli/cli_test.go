package cli

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xcofdk/xcofdk-py-sub004/config"
	"github.com/xcofdk/xcofdk-py-sub004/core"
)

func testConfig() config.Config {
	cfg := config.Load(config.New())
	cfg.LogLevel = "error"
	cfg.Items = 2000
	cfg.Producers = 3
	cfg.Consumers = 2
	cfg.QueueCapacity = 8
	return cfg
}

// TestSoak verifies every item arrives exactly once under each policy
// Given: Three producers and two consumers sharing one queue
// When: 2000 items are soaked through it
// Then: All items are popped, the checksum matches and the queue ends shut down
func TestSoak(t *testing.T) {
	for _, policy := range []string{"unbounded", "exception-on-full", "block-on-full"} {
		t.Run(policy, func(t *testing.T) {
			// Arrange
			cfg := testConfig()
			cfg.QueuePolicy = policy
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			// Act
			stats, err := soak(ctx, cfg, core.NewNoOpLogger(), &observability{})

			// Assert
			require.NoError(t, err)
			assert.EqualValues(t, cfg.Items, stats.Pushed)
			assert.EqualValues(t, cfg.Items, stats.Popped)
			assert.Equal(t, core.QueueShuttingDown, stats.State)
		})
	}
}

// TestSplit verifies producers cover the item range without gaps
func TestSplit(t *testing.T) {
	next := 0
	for p := 0; p < 3; p++ {
		lo, hi := split(10, 3, p)
		assert.Equal(t, next, lo)
		next = hi
	}
	assert.Equal(t, 10, next)
}

// TestSupervise verifies the supervisor harvests one fatal error per worker
// Given: Three workers failing by fatal error, panic and abort return code
// When: supervise runs
// Then: Three fatal errors are harvested and every worker ends failed or aborted
func TestSupervise(t *testing.T) {
	// Arrange
	cfg := testConfig()
	cfg.Workers = 3
	cfg.Duration = 5 * time.Second
	var out bytes.Buffer

	// Act
	err := supervise(context.Background(), cfg, &observability{}, &out)

	// Assert
	require.NoError(t, err)
	report := out.String()
	assert.Contains(t, report, "harvested: 3")
	assert.Contains(t, report, "fatal errors: 3")
	assert.Contains(t, report, "user errors: 6")
	assert.Contains(t, report, "worker-0")
	assert.Contains(t, report, core.StateFailed.String())
	assert.Contains(t, report, core.StateRunProgressAborted.String())
	assert.Contains(t, report, core.StateFailedByReturnCode.String())
}

// TestVersionCommand verifies the version output
func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	versionCmd.SetOut(&out)

	versionCmd.Run(versionCmd, nil)

	assert.Contains(t, out.String(), "xcore dev")
	assert.Contains(t, out.String(), "go version:")
}
