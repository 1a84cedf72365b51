/*
juno -- TS6 mesh IRC daemon core
Copyright (C) 2014 Sergey Matveev <stargrave@stargrave.org>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program.  If not, see <http://www.gnu.org/licenses/>.
*/

// Package cmode is the channel mode registry: a per-perspective,
// bidirectional table between mode letters and mode names, typed by
// how each mode carries (or doesn't carry) a parameter.
package cmode

import "sort"

// Kind classifies how a mode behaves with respect to parameters and
// storage, per spec.md §4.2.
type Kind int

const (
	Normal Kind = iota
	Parameter
	ParameterSet
	List
	Status
	Key
)

// Def is one entry of a perspective's mode table.
type Def struct {
	Letter byte
	Name   string
	Kind   Kind
	// Level ranks Status modes from lowest to highest (voice < ... <
	// owner); unused for other Kinds.
	Level int
	// Prefix is the NAMES/WHO decoration character for a Status mode
	// (e.g. '@' for op); unused for other Kinds.
	Prefix byte
}

// Table is one server's (a "perspective's") view of letter<->name
// mode mappings. Different peers may advertise different tables; the
// translator keeps one Table per peer it understands.
type Table struct {
	byLetter map[byte]Def
	byName   map[string]Def
	byPrefix map[byte]Def
}

// NewTable builds a Table from a flat list of definitions.
func NewTable(defs []Def) *Table {
	t := &Table{
		byLetter: make(map[byte]Def, len(defs)),
		byName:   make(map[string]Def, len(defs)),
		byPrefix: make(map[byte]Def),
	}
	for _, d := range defs {
		t.byLetter[d.Letter] = d
		t.byName[d.Name] = d
		if d.Kind == Status && d.Prefix != 0 {
			t.byPrefix[d.Prefix] = d
		}
	}
	return t
}

// ByPrefix looks a status mode up by its NAMES decoration character,
// perspective-aware (a peer with a custom table may map prefixes to
// different status names than the default).
func (t *Table) ByPrefix(prefix byte) (Def, bool) {
	d, ok := t.byPrefix[prefix]
	return d, ok
}

// ByLetter looks a mode up by its wire letter.
func (t *Table) ByLetter(letter byte) (Def, bool) {
	d, ok := t.byLetter[letter]
	return d, ok
}

// ByName looks a mode up by its internal name.
func (t *Table) ByName(name string) (Def, bool) {
	d, ok := t.byName[name]
	return d, ok
}

// Defs returns every definition in the table, ordered by letter for
// determinism.
func (t *Table) Defs() []Def {
	out := make([]Def, 0, len(t.byLetter))
	for _, d := range t.byLetter {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Letter < out[j].Letter })
	return out
}

// TakesParam reports whether a mode of Kind k consumes a wire
// parameter when being set (add=true) or unset (add=false).
func TakesParam(k Kind, add bool) bool {
	switch k {
	case Normal:
		return false
	case Parameter:
		return true
	case ParameterSet:
		return add
	case List:
		return true
	case Status:
		return true
	case Key:
		return true
	default:
		return false
	}
}

// Change is one decoded (±name, parameter?) step of a mode string.
type Change struct {
	Name     string
	Letter   byte
	Kind     Kind
	Add      bool
	Param    string
	HasParam bool
}

// Parse tokenizes a TS6-style mode string ("+mnt-i") against this
// perspective's table, consuming wire parameters left to right per
// TakesParam. Unknown letters are reported in dropped rather than
// causing a parse failure, per spec.md §4.2 ("unknown letters are
// dropped with a warning") — the caller decides whether/how to warn.
func (t *Table) Parse(modeStr string, params []string) (changes []Change, dropped []byte) {
	add := true
	pi := 0
	for i := 0; i < len(modeStr); i++ {
		c := modeStr[i]
		switch c {
		case '+':
			add = true
			continue
		case '-':
			add = false
			continue
		}
		def, ok := t.byLetter[c]
		if !ok {
			dropped = append(dropped, c)
			continue
		}
		ch := Change{Name: def.Name, Letter: c, Kind: def.Kind, Add: add}
		if TakesParam(def.Kind, add) && pi < len(params) {
			ch.Param = params[pi]
			ch.HasParam = true
			pi++
		}
		changes = append(changes, ch)
	}
	return changes, dropped
}

// Format re-serializes a sequence of changes back into TS6 wire form.
// When organize is true, all positive changes are emitted before all
// negative ones (stable within each group), as spec.md §4.2 requires
// for strings_from_cmodes. When maxPerLine > 0, the output is split
// into multiple "<letters> <params...>" strings such that no line
// carries more than maxPerLine parameterized modes; maxPerLine <= 0
// means a single unsplit line.
func (t *Table) Format(changes []Change, maxPerLine int, organize bool) []string {
	ordered := changes
	if organize {
		ordered = make([]Change, len(changes))
		copy(ordered, changes)
		sort.SliceStable(ordered, func(i, j int) bool {
			if ordered[i].Add == ordered[j].Add {
				return false
			}
			return ordered[i].Add && !ordered[j].Add
		})
	}

	if len(ordered) == 0 {
		return nil
	}

	chunkSize := maxPerLine
	if chunkSize <= 0 {
		chunkSize = len(ordered)
	}

	var out []string
	for start := 0; start < len(ordered); start += chunkSize {
		end := start + chunkSize
		if end > len(ordered) {
			end = len(ordered)
		}
		out = append(out, formatChunk(ordered[start:end]))
	}
	return out
}

func formatChunk(changes []Change) string {
	var letters string
	var params []string
	lastAdd := true
	first := true
	for _, ch := range changes {
		if first || ch.Add != lastAdd {
			if ch.Add {
				letters += "+"
			} else {
				letters += "-"
			}
			lastAdd = ch.Add
			first = false
		}
		letters += string(ch.Letter)
		if ch.HasParam {
			params = append(params, ch.Param)
		}
	}
	out := letters
	for _, p := range params {
		out += " " + p
	}
	return out
}

// DefaultTable returns the classic channel mode layout shared by the
// retrieved pack's TS6/ratbox-family servers: b/e/I/A list modes,
// k key, l parameter_set limit, f parameter forward, i/m/n/p/s/t/r
// normal modes, and owner/admin/op/halfop/voice status modes.
func DefaultTable() *Table {
	return NewTable([]Def{
		{Letter: 'i', Name: "invite_only", Kind: Normal},
		{Letter: 'm', Name: "moderated", Kind: Normal},
		{Letter: 'n', Name: "no_external_messages", Kind: Normal},
		{Letter: 'p', Name: "private", Kind: Normal},
		{Letter: 's', Name: "secret", Kind: Normal},
		{Letter: 't', Name: "topic_lock", Kind: Normal},
		{Letter: 'r', Name: "registered_only", Kind: Normal},

		{Letter: 'f', Name: "forward", Kind: Parameter},

		{Letter: 'l', Name: "limit", Kind: ParameterSet},
		{Letter: 'j', Name: "join_throttle", Kind: ParameterSet},

		{Letter: 'k', Name: "key", Kind: Key},

		{Letter: 'b', Name: "ban", Kind: List},
		{Letter: 'e', Name: "except", Kind: List},
		{Letter: 'I', Name: "invex", Kind: List},
		{Letter: 'A', Name: "access", Kind: List},

		{Letter: 'q', Name: "owner", Kind: Status, Level: 5, Prefix: '~'},
		{Letter: 'a', Name: "admin", Kind: Status, Level: 4, Prefix: '&'},
		{Letter: 'o', Name: "op", Kind: Status, Level: 3, Prefix: '@'},
		{Letter: 'h', Name: "halfop", Kind: Status, Level: 2, Prefix: '%'},
		{Letter: 'v', Name: "voice", Kind: Status, Level: 1, Prefix: '+'},
	})
}

// SimpleModesLevel is the minimum Status Level required to set simple
// (non-status) modes, per spec.md §4.4/§GLOSSARY "basic status"
// (half-op by default).
const SimpleModesLevel = 2
