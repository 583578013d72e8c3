package corpus

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrConfiguration       = errors.New("configuration error")
	ErrProvider            = errors.New("provider error")
	ErrIndexConsistency    = errors.New("index consistency error")
	ErrReductionImpossible = errors.New("reduction impossible")
	ErrUserInput           = errors.New("invalid input")
)

// Store sides named in a ConsistencyError.
const (
	SideVector = "vector"
	SideLedger = "ledger"
)

// ConsistencyError reports a paired write where the named side failed and
// the other side may already have committed. IDs is empty for whole-store
// writes such as a restore.
type ConsistencyError struct {
	Side string
	IDs  []string
	Err  error
}

func (e *ConsistencyError) Error() string {
	if len(e.IDs) == 0 {
		return fmt.Sprintf("%s: %s side failed: %v", ErrIndexConsistency, e.Side, e.Err)
	}
	return fmt.Sprintf("%s: %s delete of %d ids failed: %v", ErrIndexConsistency, e.Side, len(e.IDs), e.Err)
}

func (e *ConsistencyError) Unwrap() []error {
	return []error{ErrIndexConsistency, e.Err}
}

// JoinSides formats the failed sides of one or more consistency errors for logs.
func JoinSides(errs ...*ConsistencyError) string {
	var sides []string
	for _, e := range errs {
		if e != nil {
			sides = append(sides, e.Side)
		}
	}
	return strings.Join(sides, ",")
}
