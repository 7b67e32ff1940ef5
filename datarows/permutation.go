// Package datarows expands data-driven tests into row invocations.
package datarows

import (
	"errors"
	"fmt"
	"iter"
	"math/rand/v2"
	"strings"
)

// AccessMethod selects the order in which data rows are visited
type AccessMethod string

const (
	Sequential AccessMethod = "Sequential"
	Random     AccessMethod = "Random"
)

// ErrUnknownAccessMethod is returned for access methods other than Sequential and Random
var ErrUnknownAccessMethod = errors.New("unknown data access method")

// ParseAccessMethod parses an access method case-insensitively. An empty string means Sequential.
func ParseAccessMethod(s string) (AccessMethod, error) {
	switch {
	case s == "", strings.EqualFold(s, string(Sequential)):
		return Sequential, nil
	case strings.EqualFold(s, string(Random)):
		return Random, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownAccessMethod, s)
}

// Sequence is a finite, restartable sequence of row indices in [0, Len())
type Sequence interface {
	Len() int
	// All yields the indices; every call starts from the beginning
	All() iter.Seq[int]
}

// Permutation returns the row order for n rows. Unknown modes fail instead of falling back to
// sequential access.
func Permutation(mode AccessMethod, n int) (Sequence, error) {
	if n < 0 {
		return nil, fmt.Errorf("negative row count %d", n)
	}
	switch mode {
	case Sequential:
		return NewSequentialPermutation(n), nil
	case Random:
		return NewRandomPermutation(n, rand.NewPCG(rand.Uint64(), rand.Uint64())), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownAccessMethod, mode)
}

type sequentialPermutation int

// NewSequentialPermutation yields 0, 1, ..., n-1
func NewSequentialPermutation(n int) Sequence {
	return sequentialPermutation(n)
}

func (s sequentialPermutation) Len() int {
	return int(s)
}

func (s sequentialPermutation) All() iter.Seq[int] {
	return func(yield func(int) bool) {
		for i := range int(s) {
			if !yield(i) {
				return
			}
		}
	}
}

type randomPermutation []int

// NewRandomPermutation yields a random ordering of 0..n-1 drawn from src. The ordering is fixed at
// construction, so restarting the sequence replays it.
func NewRandomPermutation(n int, src rand.Source) Sequence {
	return randomPermutation(rand.New(src).Perm(n))
}

func (r randomPermutation) Len() int {
	return len(r)
}

func (r randomPermutation) All() iter.Seq[int] {
	return func(yield func(int) bool) {
		for _, i := range r {
			if !yield(i) {
				return
			}
		}
	}
}
