package engine

import (
	"errors"
	"fmt"
	"strings"

	"ecocalc/internal/catalogs"
)

var ErrCyclicDependency = errors.New("cyclic dependency")

// CycleError names the item where the traversal closed a loop, and the loop
// itself in dependency order.
type CycleError struct {
	Item catalogs.ItemID
	Path []catalogs.ItemID
}

func (e *CycleError) Error() string {
	parts := make([]string, 0, len(e.Path))
	for _, p := range e.Path {
		parts = append(parts, string(p))
	}
	return fmt.Sprintf("%v at %s (%s)", ErrCyclicDependency, e.Item, strings.Join(parts, " -> "))
}

func (e *CycleError) Unwrap() error { return ErrCyclicDependency }

const (
	unvisited = iota
	inProgress
	done
)

// Sequence orders graph nodes so every ingredient comes strictly before the
// products that consume it. Seeds are visited in g.Nodes order.
func Sequence(g Graph) ([]catalogs.ItemID, error) {
	mark := make(map[catalogs.ItemID]uint8, len(g.Nodes))
	order := make([]catalogs.ItemID, 0, len(g.Nodes))
	var stack []catalogs.ItemID

	var visit func(n catalogs.ItemID) error
	visit = func(n catalogs.ItemID) error {
		mark[n] = inProgress
		stack = append(stack, n)
		for _, dep := range g.Edges[n] {
			switch mark[dep] {
			case inProgress:
				return &CycleError{Item: dep, Path: cyclePath(stack, dep)}
			case unvisited:
				if err := visit(dep); err != nil {
					return err
				}
			}
		}
		stack = stack[:len(stack)-1]
		mark[n] = done
		order = append(order, n)
		return nil
	}

	for _, n := range g.Nodes {
		if mark[n] != unvisited {
			continue
		}
		if err := visit(n); err != nil {
			return nil, err
		}
	}
	return order, nil
}

func cyclePath(stack []catalogs.ItemID, closing catalogs.ItemID) []catalogs.ItemID {
	for i, n := range stack {
		if n == closing {
			path := append([]catalogs.ItemID(nil), stack[i:]...)
			return append(path, closing)
		}
	}
	return []catalogs.ItemID{closing}
}
