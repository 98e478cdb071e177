// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

package populate

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrNothingRequested = errors.New("must specify at least one item to populate")
	ErrWorkloadConflict = errors.New("cannot combine a workload with individual counts")
)

// InvalidCountError is returned before any device interaction when a count
// is negative or is not one of the preset markers of a fixed-preset kind.
type InvalidCountError struct {
	Kind     DataKind
	Count    int
	Accepted []int
}

func (e *InvalidCountError) Error() string {
	if len(e.Accepted) == 0 {
		return fmt.Sprintf("invalid value %d for %s count", e.Count, e.Kind)
	}
	values := make([]string, len(e.Accepted))
	for i, v := range e.Accepted {
		values[i] = strconv.Itoa(v)
	}
	return fmt.Sprintf("invalid value %d for %s count, use one of: %s",
		e.Count, e.Kind, strings.Join(values, ", "))
}

// IncorrectCountError reports that the device did not reach the expected
// state after an operation.
type IncorrectCountError struct {
	Kind     DataKind
	Expected int
	Actual   int
}

func (e *IncorrectCountError) Error() string {
	return fmt.Sprintf("incorrect %s count: expected %d, got %d", e.Kind, e.Expected, e.Actual)
}

// InsertError attributes a failed single-record insert to its index within
// the remainder. Records inserted before it stay on the device.
type InsertError struct {
	Kind  DataKind
	Index int
	Total int
	Err   error
}

func (e *InsertError) Error() string {
	return fmt.Sprintf("insert %s %d of %d: %v", e.Kind, e.Index, e.Total, e.Err)
}

func (e *InsertError) Unwrap() error { return e.Err }
