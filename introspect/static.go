package introspect

import (
	"fmt"
	"slices"
	"sync"
)

var _ Introspector = (*Static)(nil)

// Static is an explicit registration table of class records.
type Static struct {
	mu         sync.RWMutex
	containers map[string][]*ClassRecord
}

// NewStatic creates an empty registration table
func NewStatic() *Static {
	return &Static{containers: make(map[string][]*ClassRecord)}
}

// Register adds or replaces a class record in a container
func (s *Static) Register(container string, record ClassRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record.Container = container
	classes := s.containers[container]
	for i, c := range classes {
		if c.Name == record.Name {
			classes[i] = &record
			return
		}
	}
	s.containers[container] = append(classes, &record)
}

// Classes implements Introspector
func (s *Static) Classes(container string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	classes, ok := s.containers[container]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrContainerNotFound, container)
	}
	names := make([]string, 0, len(classes))
	for _, c := range classes {
		names = append(names, c.Name)
	}
	return names, nil
}

// LoadClass implements Introspector. The returned record is a copy.
func (s *Static) LoadClass(container, class string) (*ClassRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.containers[container] {
		if c.Name == class {
			cp := *c
			cp.Methods = slices.Clone(c.Methods)
			cp.ContextProperties = slices.Clone(c.ContextProperties)
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("%w: %s in %s", ErrClassNotFound, class, container)
}
