package orchestrator

import (
	"fmt"
	"sort"
	"strings"
)

// CircularDependencyError is fatal: an orchestration with a dependency cycle
// produces no partial results.
type CircularDependencyError struct {
	Module string
	Path   []string
}

func (e *CircularDependencyError) Error() string {
	if len(e.Path) > 0 {
		return fmt.Sprintf("circular dependency detected at module %q: %s",
			e.Module, strings.Join(e.Path, " -> "))
	}
	return fmt.Sprintf("circular dependency detected at module %q", e.Module)
}

// executionOrder computes a deterministic execution order for the requested
// modules via depth-first topological visit. Modules are pre-sorted by
// descending priority (stable, so ties keep request order), which makes
// higher-priority modules run first among independents. Dependencies outside
// the requested set are ignored.
func executionOrder(requested []string, configs map[string]ModuleConfig) ([]string, error) {
	inSet := make(map[string]bool, len(requested))
	for _, name := range requested {
		inSet[name] = true
	}

	ordered := make([]string, len(requested))
	copy(ordered, requested)
	sort.SliceStable(ordered, func(i, j int) bool {
		return configs[ordered[i]].Priority > configs[ordered[j]].Priority
	})

	const (
		white = iota // unvisited
		gray         // on the current DFS path
		black        // done
	)
	color := make(map[string]int, len(requested))
	order := make([]string, 0, len(requested))
	var path []string

	var visit func(name string) error
	visit = func(name string) error {
		switch color[name] {
		case black:
			return nil
		case gray:
			// Trim the path to the cycle itself.
			start := 0
			for i, n := range path {
				if n == name {
					start = i
					break
				}
			}
			cycle := append(append([]string{}, path[start:]...), name)
			return &CircularDependencyError{Module: name, Path: cycle}
		}

		color[name] = gray
		path = append(path, name)
		for _, dep := range configs[name].Dependencies {
			if !inSet[dep] {
				continue
			}
			if err := visit(dep); err != nil {
				return err
			}
		}
		path = path[:len(path)-1]
		color[name] = black
		order = append(order, name)
		return nil
	}

	for _, name := range ordered {
		if err := visit(name); err != nil {
			return nil, err
		}
	}
	return order, nil
}
