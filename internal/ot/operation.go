// Package ot implements the positional operational-transformation engine
// used to reconcile concurrent document edits.
//
// Unlike the sequence-based OT ported in the upstream rustpad lineage
// (retain/insert/delete chains covering the whole document), operations
// here are single positional edits: an insert, delete or retain at an
// explicit offset. This matches the wire model clients submit and lets the
// broadcaster transform one submitted operation against a run of history
// without rebuilding a full operation chain each time.
package ot

import (
	"fmt"
	"time"
	"unicode/utf8"
)

// Type identifies the kind of edit an Operation performs.
type Type string

const (
	Insert Type = "insert"
	Delete Type = "delete"
	Retain Type = "retain"
)

// Operation is a single positional edit authored by a user against a known
// base document version.
type Operation struct {
	Type      Type      `json:"type"`
	Position  int       `json:"position"`
	Content   string    `json:"content,omitempty"`
	Length    int       `json:"length,omitempty"`
	UserID    string    `json:"userId"`
	Timestamp time.Time `json:"timestamp"`
	Version   int       `json:"version"`
}

// Validate enforces the per-type invariants from the data model: insert
// requires content, delete requires a positive length, and position must be
// non-negative.
func (o Operation) Validate() error {
	if o.Position < 0 {
		return fmt.Errorf("ot: position must be non-negative, got %d", o.Position)
	}
	switch o.Type {
	case Insert:
		if o.Content == "" {
			return fmt.Errorf("ot: insert requires content")
		}
		if o.Length < 0 {
			return fmt.Errorf("ot: insert length must be non-negative, got %d", o.Length)
		}
	case Delete:
		if o.Length <= 0 {
			return fmt.Errorf("ot: delete requires length > 0, got %d", o.Length)
		}
	case Retain:
		if o.Length < 0 {
			return fmt.Errorf("ot: retain length must be non-negative, got %d", o.Length)
		}
	default:
		return fmt.Errorf("ot: unknown operation type %q", o.Type)
	}
	return nil
}

// IsReplacement reports whether an insert also deletes a range, i.e. an
// insert with Length > 0, semantically Delete(length) followed by
// Insert(content) at the same position.
func (o Operation) IsReplacement() bool {
	return o.Type == Insert && o.Length > 0
}

// clampRange clamps [start, start+length) into [0, textLen].
func clampRange(start, length, textLen int) (int, int) {
	if start < 0 {
		start = 0
	}
	if start > textLen {
		start = textLen
	}
	end := start + length
	if end > textLen {
		end = textLen
	}
	if end < start {
		end = start
	}
	return start, end
}

// Apply executes op against text, returning the resulting text and the
// caret position implied after the edit (used by callers that need to
// track a logical cursor through a sequence of applications).
//
// Positions and lengths are counted in Unicode codepoints (runes), matching
// the teacher's own convention for cursor offsets.
func Apply(text string, op Operation) (string, int, error) {
	if err := op.Validate(); err != nil {
		return text, 0, err
	}

	runes := []rune(text)
	n := len(runes)

	switch op.Type {
	case Retain:
		pos := op.Position + op.Length
		if pos > n {
			pos = n
		}
		return text, pos, nil

	case Delete:
		start, end := clampRange(op.Position, op.Length, n)
		out := make([]rune, 0, n-(end-start))
		out = append(out, runes[:start]...)
		out = append(out, runes[end:]...)
		return string(out), start, nil

	case Insert:
		start := op.Position
		if start < 0 {
			start = 0
		}
		if start > n {
			start = n
		}
		if op.IsReplacement() {
			// Replacement insert: delete [start, start+length) then insert
			// content at start.
			_, end := clampRange(start, op.Length, n)
			out := make([]rune, 0, n-(end-start)+utf8.RuneCountInString(op.Content))
			out = append(out, runes[:start]...)
			out = append(out, []rune(op.Content)...)
			out = append(out, runes[end:]...)
			return string(out), start + utf8.RuneCountInString(op.Content), nil
		}

		out := make([]rune, 0, n+utf8.RuneCountInString(op.Content))
		out = append(out, runes[:start]...)
		out = append(out, []rune(op.Content)...)
		out = append(out, runes[start:]...)
		return string(out), start + utf8.RuneCountInString(op.Content), nil

	default:
		return text, 0, fmt.Errorf("ot: unknown operation type %q", op.Type)
	}
}

// Delta returns the net change in document length an operation produces:
// positive for a net insertion, negative for a net deletion, zero for a
// retain or a same-length replacement.
func Delta(op Operation) int {
	switch op.Type {
	case Insert:
		inserted := utf8.RuneCountInString(op.Content)
		return inserted - op.Length
	case Delete:
		return -op.Length
	default:
		return 0
	}
}

// InsertedLen returns the number of runes an operation inserts (0 for
// delete/retain).
func InsertedLen(op Operation) int {
	if op.Type == Insert {
		return utf8.RuneCountInString(op.Content)
	}
	return 0
}

// DeletedLen returns the number of runes an operation removes: Length for
// delete and for a replacement insert, 0 otherwise.
func DeletedLen(op Operation) int {
	if op.Type == Delete {
		return op.Length
	}
	if op.IsReplacement() {
		return op.Length
	}
	return 0
}
