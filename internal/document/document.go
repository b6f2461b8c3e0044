// Package document implements DocumentStore: the per-document authoritative
// state (content, version, operation history, collaborators) backed by a
// short-TTL key-value cache, per spec.md §3/§4.2.
package document

import (
	"sort"
	"time"

	"github.com/collabforge/colabhub/internal/ot"
)

// Selection is a collaborator's current text selection, [Start, End).
type Selection struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Collaborator is a connected user's non-content presence state.
type Collaborator struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Avatar    string     `json:"avatar,omitempty"`
	Cursor    int        `json:"cursor"`
	Selection *Selection `json:"selection,omitempty"`
	Active    bool       `json:"active"`
	LastSeen  time.Time  `json:"lastSeen"`
}

// Document is the authoritative collaborative editing state for one
// document id.
type Document struct {
	ID            string                   `json:"id"`
	Content       string                   `json:"content"`
	Version       int                      `json:"version"`
	OpHistory     []ot.Operation           `json:"opHistory"`
	Collaborators map[string]*Collaborator `json:"collaborators"`
	AccessCode    string                   `json:"accessCode,omitempty"`
	CreatedAt     time.Time                `json:"createdAt"`
	UpdatedAt     time.Time                `json:"updatedAt"`
}

// clone returns a deep-enough copy of d safe to hand to callers outside the
// store's lock: independent OpHistory slice and Collaborators map, with
// copied *Collaborator values.
func (d *Document) clone() *Document {
	cp := *d
	cp.OpHistory = append([]ot.Operation(nil), d.OpHistory...)
	cp.Collaborators = make(map[string]*Collaborator, len(d.Collaborators))
	for id, c := range d.Collaborators {
		cc := *c
		cp.Collaborators[id] = &cc
	}
	return &cp
}

// CollaboratorList returns the document's collaborators as a slice ordered
// by collaborator id, for wire responses.
func (d *Document) CollaboratorList() []*Collaborator {
	out := make([]*Collaborator, 0, len(d.Collaborators))
	for _, c := range d.Collaborators {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
