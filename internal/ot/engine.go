package ot

import (
	"errors"
	"unicode/utf8"
)

// ErrIncompatibleLengths is returned by Compose when two operations cannot
// be coalesced (e.g. deleting past the bound of a preceding insert).
var ErrIncompatibleLengths = errors.New("ot: incompatible lengths")

// Transform reconciles two concurrent operations authored against the same
// base version, returning the pair that should be applied in sequence to
// converge. op1HasPriority decides composition order for Insert/Insert
// pairs (the caller picks it by earlier timestamp, falling back to
// lexicographically smaller userId on exact ties) — it does not change the
// resulting field values, only which operation is considered to have
// "gone first" for downstream composition.
//
// Positions are deliberately left untouched here: spec position remapping
// across a conflicting op is the broadcaster's concern (it folds a
// submitted operation through history one conflicting op at a time, and
// each fold only needs to know how lengths overlap, not where a sibling
// operation's position has drifted to).
func Transform(op1, op2 Operation, op1HasPriority bool) (Operation, Operation) {
	_ = op1HasPriority // reserved for tie-break in Compose call sites

	switch {
	case op1.Type == Retain || op2.Type == Retain:
		return op1, op2

	case op1.Type == Insert && op2.Type == Insert:
		return op1, op2

	case op1.Type == Insert && op2.Type == Delete:
		return op1, op2

	case op1.Type == Delete && op2.Type == Insert:
		return op1, op2

	case op1.Type == Delete && op2.Type == Delete:
		l1, l2 := deleteLen(op1), deleteLen(op2)
		overlap := min(l1, l2)
		rem := l2 - l1
		if rem < 0 {
			rem = 0
		}
		t1 := op1
		t1.Length = overlap
		t2 := op2
		t2.Length = rem
		return t1, t2

	default:
		return op1, op2
	}
}

func deleteLen(op Operation) int {
	if op.Type == Delete {
		return op.Length
	}
	return DeletedLen(op)
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// Invert returns the operation that undoes op given the document content
// immediately before op was applied (preState). Insert inverts to a delete
// of the same span; delete inverts to an insert of the deleted substring;
// retain is self-inverse.
func Invert(op Operation, preState string) (Operation, error) {
	switch op.Type {
	case Retain:
		return op, nil

	case Insert:
		inverse := Operation{
			Type:      Delete,
			Position:  op.Position,
			Length:    utf8.RuneCountInString(op.Content),
			UserID:    op.UserID,
			Timestamp: op.Timestamp,
			Version:   op.Version,
		}
		if op.IsReplacement() {
			// The replaced span must be restored on undo: invert to a
			// replacement-insert carrying the original substring back.
			runes := []rune(preState)
			start, end := clampRange(op.Position, op.Length, len(runes))
			inverse = Operation{
				Type:      Insert,
				Position:  op.Position,
				Content:   string(runes[start:end]),
				Length:    utf8.RuneCountInString(op.Content),
				UserID:    op.UserID,
				Timestamp: op.Timestamp,
				Version:   op.Version,
			}
		}
		return inverse, nil

	case Delete:
		runes := []rune(preState)
		start, end := clampRange(op.Position, op.Length, len(runes))
		return Operation{
			Type:      Insert,
			Position:  op.Position,
			Content:   string(runes[start:end]),
			UserID:    op.UserID,
			Timestamp: op.Timestamp,
			Version:   op.Version,
		}, nil

	default:
		return Operation{}, errors.New("ot: cannot invert unknown operation type")
	}
}

// Compose folds two sequential, non-conflicting operations into one where
// possible. It is not required for OT correctness (the broadcaster never
// needs it to converge); it exists to coalesce an append-heavy opHistory
// the way the teacher's own upstream OT library coalesces adjacent inserts.
// The second return value is false when the pair cannot be composed.
func Compose(first, second Operation) (Operation, bool, error) {
	switch {
	case first.Type == Insert && second.Type == Insert && !first.IsReplacement() && !second.IsReplacement():
		if second.Position != first.Position+utf8.RuneCountInString(first.Content) {
			return Operation{}, false, nil
		}
		return Operation{
			Type:      Insert,
			Position:  first.Position,
			Content:   first.Content + second.Content,
			UserID:    second.UserID,
			Timestamp: second.Timestamp,
			Version:   second.Version,
		}, true, nil

	case first.Type == Insert && second.Type == Delete && !first.IsReplacement():
		n := second.Length
		contentLen := utf8.RuneCountInString(first.Content)
		if second.Position != first.Position {
			return Operation{}, false, nil
		}
		switch {
		case n < contentLen:
			runes := []rune(first.Content)
			return Operation{
				Type:      Insert,
				Position:  first.Position,
				Content:   string(runes[n:]),
				UserID:    second.UserID,
				Timestamp: second.Timestamp,
				Version:   second.Version,
			}, true, nil
		case n == contentLen:
			return Operation{
				Type:      Retain,
				Position:  first.Position,
				Length:    0,
				UserID:    second.UserID,
				Timestamp: second.Timestamp,
				Version:   second.Version,
			}, true, nil
		default:
			return Operation{}, false, ErrIncompatibleLengths
		}

	case first.Type == Delete && second.Type == Delete:
		if second.Position != first.Position {
			return Operation{}, false, nil
		}
		return Operation{
			Type:      Delete,
			Position:  first.Position,
			Length:    first.Length + second.Length,
			UserID:    second.UserID,
			Timestamp: second.Timestamp,
			Version:   second.Version,
		}, true, nil

	default:
		return Operation{}, false, nil
	}
}
