package cmd

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"steadyvu/internal/config"
)

func TestBuildPlanOverrides(t *testing.T) {
	t.Setenv("STEADYVU_BASE_URL", "http://127.0.0.1:8080")
	initConfig()

	require.NoError(t, runCmd.Flags().Set("vus", "3"))
	require.NoError(t, runCmd.Flags().Set("duration", "5s"))
	t.Cleanup(func() {
		for _, name := range []string{"vus", "duration"} {
			f := runCmd.Flags().Lookup(name)
			f.Value.Set(f.DefValue)
			f.Changed = false
		}
	})

	plan, err := buildPlan(runCmd)
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:8080", plan.BaseURL)
	assert.Equal(t, 3, plan.VUs)
	assert.Empty(t, plan.Stages)
	assert.Equal(t, config.Duration(5*time.Second), plan.Duration)

	cfg, err := plan.RunConfig()
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.MaxTarget())
	assert.Equal(t, 5*time.Second, cfg.TotalDuration())
}

func TestBuildPlanDefaultsToUserJourney(t *testing.T) {
	t.Setenv("STEADYVU_BASE_URL", "http://127.0.0.1:8080")
	initConfig()

	plan, err := buildPlan(runCmd)
	require.NoError(t, err)
	assert.Equal(t, "user-journey", plan.Name)
	assert.Len(t, plan.Stages, 4)
}
