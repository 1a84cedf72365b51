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

// Package channel is the per-channel state machine of spec.md §4.3:
// timestamp, ordered member set, typed mode map, list entries and
// topic record, plus the low-level mutation primitives the mode
// applicator and the SJOIN resolver build on. It is the generalization
// of ThomasHabets-goircd's Room (room.go): a flat member map and a
// bare string topic become an ordered member list, a typed mode_value
// map, and a topic_record, per spec.md §3.
package channel

import (
	"strings"

	"github.com/lindleyw/juno/internal/cmode"
)

// ListEntry is one row of a list-type mode (ban/except/invex/access).
type ListEntry struct {
	Param string
	SetBy string
	Time  int64
}

// ModeValue is the tagged mode_value variant of spec.md §3. Exactly
// one of the fields is meaningful, selected by Kind:
//   - Normal: Time
//   - Parameter/ParameterSet/Key: Param, Time
//   - List: Entries
//   - Status: Users
type ModeValue struct {
	Kind    cmode.Kind
	Time    int64
	Param   string
	Entries []ListEntry
	Users   []string
}

// Topic is the channel topic record of spec.md §3. A Channel with no
// topic set has a nil *Topic; DoTopic clears it back to nil when text
// becomes empty.
type Topic struct {
	Text     string
	SetBy    string
	Time     int64
	SourceID string
}

// Channel is one channel's full state.
type Channel struct {
	Name  string
	Time  int64
	Users []string // ordered for deterministic NAMES/SJOIN output
	Modes map[string]*ModeValue
	Topic *Topic

	members map[string]struct{}
}

// New creates a channel adopting ts as its creation timestamp, per
// spec.md §4.5 step 1 ("new channel adopts ts").
func New(name string, ts int64) *Channel {
	return &Channel{
		Name:    name,
		Time:    ts,
		Modes:   make(map[string]*ModeValue),
		members: make(map[string]struct{}),
	}
}

// --- membership ---

// Add joins uid to the channel. It is idempotent.
func (c *Channel) Add(uid string) {
	if _, ok := c.members[uid]; ok {
		return
	}
	c.members[uid] = struct{}{}
	c.Users = append(c.Users, uid)
}

// Has reports whether uid is a member.
func (c *Channel) Has(uid string) bool {
	_, ok := c.members[uid]
	return ok
}

// Remove removes uid from the channel and, atomically, from every
// status list, per spec.md §3's invariant that status lists only
// contain members.
func (c *Channel) Remove(uid string) {
	if _, ok := c.members[uid]; !ok {
		return
	}
	delete(c.members, uid)
	for i, u := range c.Users {
		if u == uid {
			c.Users = append(c.Users[:i], c.Users[i+1:]...)
			break
		}
	}
	for _, mv := range c.Modes {
		if mv.Kind != cmode.Status {
			continue
		}
		for i, u := range mv.Users {
			if u == uid {
				mv.Users = append(mv.Users[:i], mv.Users[i+1:]...)
				break
			}
		}
	}
}

// MemberCount returns the number of joined users.
func (c *Channel) MemberCount() int { return len(c.Users) }

// --- simple / parameter / key modes ---

func (c *Channel) ensure(name string, kind cmode.Kind) *ModeValue {
	mv, ok := c.Modes[name]
	if !ok {
		mv = &ModeValue{Kind: kind}
		c.Modes[name] = mv
	}
	return mv
}

// SetSimple sets a Normal-kind mode.
func (c *Channel) SetSimple(name string, t int64) {
	mv := c.ensure(name, cmode.Normal)
	mv.Time = t
}

// UnsetSimple removes a Normal-kind mode.
func (c *Channel) UnsetSimple(name string) {
	delete(c.Modes, name)
}

// HasSimple reports whether a Normal-kind (or Parameter/ParameterSet/Key)
// mode is currently set.
func (c *Channel) HasSimple(name string) bool {
	_, ok := c.Modes[name]
	return ok
}

// SetParam sets a Parameter/ParameterSet-kind mode's value.
func (c *Channel) SetParam(name, param string, t int64, kind cmode.Kind) {
	mv := c.ensure(name, kind)
	mv.Param = param
	mv.Time = t
}

// Param returns a Parameter/ParameterSet/Key mode's current value.
func (c *Channel) Param(name string) (string, bool) {
	mv, ok := c.Modes[name]
	if !ok {
		return "", false
	}
	return mv.Param, true
}

// UnsetParam removes a Parameter/ParameterSet-kind mode.
func (c *Channel) UnsetParam(name string) {
	delete(c.Modes, name)
}

// SetKey sets the Key-kind mode's value (spec.md §4.4 step 6 type 5).
func (c *Channel) SetKey(name, key string) {
	mv := c.ensure(name, cmode.Key)
	mv.Param = key
}

// UnsetKey removes the Key-kind mode regardless of the parameter
// given to unset it (spec.md §4.4 step 6: "unset ignoring param on
// unset if none given, else consume" — the ignoring happens at the
// applicator layer; this primitive always clears).
func (c *Channel) UnsetKey(name string) {
	delete(c.Modes, name)
}

// --- list modes (ban/except/invex/access) ---

// AddToList inserts entry, keyed uniquely by Param within the list
// (spec.md §3 invariant). Returns false if Param was already present.
func (c *Channel) AddToList(name string, entry ListEntry) bool {
	mv := c.ensure(name, cmode.List)
	for _, e := range mv.Entries {
		if e.Param == entry.Param {
			return false
		}
	}
	mv.Entries = append(mv.Entries, entry)
	return true
}

// RemoveFromList deletes the entry with the given Param. Returns
// false if no such entry existed.
func (c *Channel) RemoveFromList(name, param string) bool {
	mv, ok := c.Modes[name]
	if !ok {
		return false
	}
	for i, e := range mv.Entries {
		if e.Param == param {
			mv.Entries = append(mv.Entries[:i], mv.Entries[i+1:]...)
			return true
		}
	}
	return false
}

// ListEntries returns the current entries of a list-type mode.
func (c *Channel) ListEntries(name string) []ListEntry {
	mv, ok := c.Modes[name]
	if !ok {
		return nil
	}
	return mv.Entries
}

// ListHas reports whether x is present, by exact (non-glob) Param
// match, within list-type mode name.
func (c *Channel) ListHas(name, x string) bool {
	mv, ok := c.Modes[name]
	if !ok {
		return false
	}
	for _, e := range mv.Entries {
		if e.Param == x {
			return true
		}
	}
	return false
}

// ListMatches reports whether target (e.g. "nick!ident@host") is
// matched by any mask currently stored in list-type mode name, using
// IRC mask globbing ('*', '?'), case-insensitively.
func (c *Channel) ListMatches(name, target string) bool {
	mv, ok := c.Modes[name]
	if !ok {
		return false
	}
	for _, e := range mv.Entries {
		if MatchMask(e.Param, target) {
			return true
		}
	}
	return false
}

// --- status modes ---

// AddStatus grants a Status-kind mode to uid. Returns false if uid
// already held it.
func (c *Channel) AddStatus(name, uid string) bool {
	mv := c.ensure(name, cmode.Status)
	for _, u := range mv.Users {
		if u == uid {
			return false
		}
	}
	mv.Users = append(mv.Users, uid)
	return true
}

// RemoveStatus revokes a Status-kind mode from uid. Returns false if
// uid did not hold it.
func (c *Channel) RemoveStatus(name, uid string) bool {
	mv, ok := c.Modes[name]
	if !ok {
		return false
	}
	for i, u := range mv.Users {
		if u == uid {
			mv.Users = append(mv.Users[:i], mv.Users[i+1:]...)
			return true
		}
	}
	return false
}

// HasStatus reports whether uid currently holds Status-kind mode name.
func (c *Channel) HasStatus(name, uid string) bool {
	mv, ok := c.Modes[name]
	if !ok {
		return false
	}
	for _, u := range mv.Users {
		if u == uid {
			return true
		}
	}
	return false
}

// StatusOf returns every status name uid currently holds in this
// channel, in table-Level order (highest first) when tbl is non-nil.
func (c *Channel) StatusOf(tbl *cmode.Table, uid string) []string {
	var names []string
	for name, mv := range c.Modes {
		if mv.Kind != cmode.Status {
			continue
		}
		for _, u := range mv.Users {
			if u == uid {
				names = append(names, name)
				break
			}
		}
	}
	if tbl == nil {
		return names
	}
	levelOf := func(name string) int {
		if d, ok := tbl.ByName(name); ok {
			return d.Level
		}
		return 0
	}
	for i := 1; i < len(names); i++ {
		for j := i; j > 0 && levelOf(names[j-1]) < levelOf(names[j]); j-- {
			names[j-1], names[j] = names[j], names[j-1]
		}
	}
	return names
}

// --- timestamp ---

// TakeLowerTime sets Time to min(Time, t) and never increases it, per
// spec.md §8's invariant. ignoreModes is carried for callers (SJOIN
// resolution distinguishes wiping mode state from merely adjusting
// the timestamp) but does not itself touch Modes.
func (c *Channel) TakeLowerTime(t int64, ignoreModes bool) {
	_ = ignoreModes
	if t < c.Time {
		c.Time = t
	}
}

// --- topic ---

// DoTopic sets the channel topic, or clears it when text is empty,
// per spec.md §3 ("Absent iff text empty").
func (c *Channel) DoTopic(text, setBy string, t int64, sourceID string) {
	if text == "" {
		c.Topic = nil
		return
	}
	c.Topic = &Topic{Text: text, SetBy: setBy, Time: t, SourceID: sourceID}
}

// --- destruction ---

// DestroyMaybe reports whether the channel should be deleted: true
// iff it has no members and veto (if given) does not object.
func (c *Channel) DestroyMaybe(veto func() bool) bool {
	if c.MemberCount() != 0 {
		return false
	}
	if veto != nil && veto() {
		return false
	}
	return true
}

// --- NAMES formatting ---

// NamesLines groups members into reply-line chunks no longer than
// maxLen characters (after prefix decoration), per spec.md §4.3.
// prefixOf returns, highest level first, the prefix characters a
// member currently holds; when multiPrefix is false only the first
// (highest) one is used.
func (c *Channel) NamesLines(maxLen int, multiPrefix bool, prefixOf func(uid string) []byte, nickOf func(uid string) string) []string {
	var lines []string
	var cur strings.Builder
	for _, uid := range c.Users {
		var deco strings.Builder
		prefixes := prefixOf(uid)
		if len(prefixes) > 0 {
			if multiPrefix {
				deco.Write(prefixes)
			} else {
				deco.WriteByte(prefixes[0])
			}
		}
		deco.WriteString(nickOf(uid))
		entry := deco.String()

		if cur.Len() == 0 {
			cur.WriteString(entry)
			continue
		}
		if cur.Len()+1+len(entry) > maxLen {
			lines = append(lines, cur.String())
			cur.Reset()
			cur.WriteString(entry)
			continue
		}
		cur.WriteByte(' ')
		cur.WriteString(entry)
	}
	if cur.Len() > 0 {
		lines = append(lines, cur.String())
	}
	return lines
}

// MatchMask reports whether target matches the IRC glob pattern
// (wildcards '*' and '?' only), case-insensitively. Grounded on the
// casemapping fold used throughout the pack (belak/seabird-state's
// ASCIIToLower) for the fold itself; the matcher is the classic
// two-pointer wildcard algorithm since no library in the pack is ever
// exercised for IRC mask globbing (see DESIGN.md).
func MatchMask(pattern, target string) bool {
	p := strings.ToLower(pattern)
	s := strings.ToLower(target)

	var pi, si, star, match int
	star = -1
	for si < len(s) {
		switch {
		case pi < len(p) && (p[pi] == '?' || p[pi] == s[si]):
			pi++
			si++
		case pi < len(p) && p[pi] == '*':
			star = pi
			match = si
			pi++
		case star != -1:
			pi = star + 1
			match++
			si = match
		default:
			return false
		}
	}
	for pi < len(p) && p[pi] == '*' {
		pi++
	}
	return pi == len(p)
}
