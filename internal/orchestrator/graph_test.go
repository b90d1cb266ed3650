package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func configMap(cfgs ...ModuleConfig) map[string]ModuleConfig {
	out := make(map[string]ModuleConfig, len(cfgs))
	for _, cfg := range cfgs {
		out[cfg.Name] = cfg.withDefaults()
	}
	return out
}

func indexOf(t *testing.T, order []string, name string) int {
	t.Helper()
	for i, n := range order {
		if n == name {
			return i
		}
	}
	t.Fatalf("module %q not in order %v", name, order)
	return -1
}

func TestExecutionOrder_DependenciesFirst(t *testing.T) {
	cfgs := configMap(
		ModuleConfig{Name: "recommendation", Dependencies: []string{"fundamentals", "technical"}},
		ModuleConfig{Name: "fundamentals"},
		ModuleConfig{Name: "technical"},
	)

	order, err := executionOrder([]string{"recommendation", "fundamentals", "technical"}, cfgs)
	require.NoError(t, err)
	require.Len(t, order, 3)

	rec := indexOf(t, order, "recommendation")
	assert.Greater(t, rec, indexOf(t, order, "fundamentals"))
	assert.Greater(t, rec, indexOf(t, order, "technical"))
}

func TestExecutionOrder_PriorityAmongIndependents(t *testing.T) {
	cfgs := configMap(
		ModuleConfig{Name: "low", Priority: 2},
		ModuleConfig{Name: "high", Priority: 9},
		ModuleConfig{Name: "mid", Priority: 5},
	)

	order, err := executionOrder([]string{"low", "high", "mid"}, cfgs)
	require.NoError(t, err)
	assert.Equal(t, []string{"high", "mid", "low"}, order)
}

func TestExecutionOrder_StableTieBreak(t *testing.T) {
	cfgs := configMap(
		ModuleConfig{Name: "b", Priority: 5},
		ModuleConfig{Name: "a", Priority: 5},
		ModuleConfig{Name: "c", Priority: 5},
	)

	// Equal priorities keep request order.
	order, err := executionOrder([]string{"b", "a", "c"}, cfgs)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a", "c"}, order)
}

func TestExecutionOrder_DeterministicForSameRequest(t *testing.T) {
	cfgs := configMap(
		ModuleConfig{Name: "sentiment", Priority: 3},
		ModuleConfig{Name: "news", Priority: 7},
		ModuleConfig{Name: "recommendation", Priority: 1, Dependencies: []string{"news", "sentiment"}},
	)
	request := []string{"recommendation", "sentiment", "news"}

	first, err := executionOrder(request, cfgs)
	require.NoError(t, err)
	for range 10 {
		again, err := executionOrder(request, cfgs)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestExecutionOrder_CycleIsFatal(t *testing.T) {
	cfgs := configMap(
		ModuleConfig{Name: "a", Dependencies: []string{"b"}},
		ModuleConfig{Name: "b", Dependencies: []string{"c"}},
		ModuleConfig{Name: "c", Dependencies: []string{"a"}},
	)

	_, err := executionOrder([]string{"a", "b", "c"}, cfgs)
	require.Error(t, err)

	var cycleErr *CircularDependencyError
	require.ErrorAs(t, err, &cycleErr)
	assert.NotEmpty(t, cycleErr.Module)
	assert.GreaterOrEqual(t, len(cycleErr.Path), 3)
}

func TestExecutionOrder_SelfDependency(t *testing.T) {
	cfgs := configMap(ModuleConfig{Name: "a", Dependencies: []string{"a"}})

	_, err := executionOrder([]string{"a"}, cfgs)
	var cycleErr *CircularDependencyError
	require.ErrorAs(t, err, &cycleErr)
	assert.Equal(t, "a", cycleErr.Module)
}

func TestExecutionOrder_IgnoresOutOfSetDependencies(t *testing.T) {
	cfgs := configMap(ModuleConfig{Name: "a", Dependencies: []string{"not-requested"}})

	order, err := executionOrder([]string{"a"}, cfgs)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, order)
}
