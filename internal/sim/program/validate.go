package program

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrInvalidArgs = errors.New("invalid instruction arguments")

// MaxMoveOffset bounds each axis of a MOVE offset.
const MaxMoveOffset = 1.0

// Walk visits every instruction of the tree in program order, depth first, without
// recursion. path is the index path from the root. Returning false from fn skips the
// instruction's body.
func Walk(instrs []Instruction, fn func(path []int, ins Instruction) bool) {
	type item struct {
		body []Instruction
		idx  int
		path []int
	}
	stack := []item{{body: instrs}}
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		if top.idx >= len(top.body) {
			stack = stack[:len(stack)-1]
			continue
		}
		i := top.idx
		top.idx++
		ins := top.body[i]
		path := append(append(make([]int, 0, len(top.path)+1), top.path...), i)
		if !fn(path, ins) {
			continue
		}
		if body := bodyOf(ins); len(body) > 0 {
			stack = append(stack, item{body: body, path: path})
		}
	}
}

func bodyOf(ins Instruction) []Instruction {
	switch v := ins.(type) {
	case *Repeat:
		return v.Body
	case *Until:
		return v.Body
	case *Forever:
		return v.Body
	}
	return nil
}

// Validate checks the argument constraints the engine relies on.
func Validate(instrs []Instruction) error {
	var errs []error
	Walk(instrs, func(path []int, ins Instruction) bool {
		if err := validateOne(ins); err != nil {
			errs = append(errs, fmt.Errorf("at %s (%s): %w", formatPath(path), ins.Kind(), err))
		}
		return true
	})
	return errors.Join(errs...)
}

func validateOne(ins Instruction) error {
	switch v := ins.(type) {
	case nil:
		return fmt.Errorf("%w: nil instruction", ErrInvalidArgs)
	case Move:
		if v.Offset.X < -MaxMoveOffset || v.Offset.X > MaxMoveOffset ||
			v.Offset.Y < -MaxMoveOffset || v.Offset.Y > MaxMoveOffset || v.Speed <= 0 {
			return fmt.Errorf("%w: offset must be within [-1,1] per axis and speed > 0", ErrInvalidArgs)
		}
	case MoveRandom:
		if v.X1 > v.X2 || v.Y1 > v.Y2 || v.Speed <= 0 {
			return fmt.Errorf("%w: want x1 <= x2, y1 <= y2 and speed > 0", ErrInvalidArgs)
		}
	case Signal:
		if v.Label == "" {
			return fmt.Errorf("%w: empty label", ErrInvalidArgs)
		}
	case Unsignal:
		if v.Label == "" {
			return fmt.Errorf("%w: empty label", ErrInvalidArgs)
		}
	case Follow:
		if v.Label == "" || v.Radius < 0 || v.Speed <= 0 {
			return fmt.Errorf("%w: want label, radius >= 0 and speed > 0", ErrInvalidArgs)
		}
	case Continue:
		if v.Seconds < 0 {
			return fmt.Errorf("%w: negative seconds", ErrInvalidArgs)
		}
	case *Repeat:
		if v.Times < 0 {
			return fmt.Errorf("%w: negative repeat count", ErrInvalidArgs)
		}
	case *Until:
		if v.Label == "" {
			return fmt.Errorf("%w: empty label", ErrInvalidArgs)
		}
	}
	return nil
}

func formatPath(path []int) string {
	parts := make([]string, len(path))
	for i, p := range path {
		parts[i] = strconv.Itoa(p)
	}
	return strings.Join(parts, ".")
}
