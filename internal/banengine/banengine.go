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

// Package banengine holds the global K-line/D-line/resv/nick-delay
// ban table: identity derivation, upsert, semantic lookup, match
// evaluation, expiry/lifetime pruning, and per-peer burst state.
package banengine

import (
	"fmt"
	"hash/fnv"
	"strings"

	"github.com/pkg/errors"

	"github.com/lindleyw/juno/internal/actor"
	"github.com/lindleyw/juno/internal/channel"
)

// Type is the kind of ban a record represents.
type Type int

const (
	KLine Type = iota
	DLine
	Resv
	NickDelay
)

func (t Type) String() string {
	switch t {
	case KLine:
		return "kline"
	case DLine:
		return "dline"
	case Resv:
		return "resv"
	case NickDelay:
		return "nick_delay"
	default:
		return "unknown"
	}
}

// Ban is one ban record, keyed globally by ID.
type Ban struct {
	ID        string
	Type      Type
	Match     string
	MatchUser string
	MatchHost string
	Reason    string
	Added     int64
	Modified  int64
	Duration  int64
	Lifetime  int64
	ASID      string
	AUser     string

	RecentSource actor.Actor
	Disabled     bool
}

// Expires is the instant this ban's duration lapses.
func (b *Ban) Expires() int64 { return b.Modified + b.Duration }

// LifetimeEnd is the instant this ban is pruned regardless of state.
func (b *Ban) LifetimeEnd() int64 { return b.Modified + b.Lifetime }

// Active reports whether the ban still applies at now.
func (b *Ban) Active(now int64) bool {
	return now < b.Expires() && !b.Disabled
}

// ShouldPrune reports whether the ban has outlived its lifetime and
// should be removed from the table entirely.
func (b *Ban) ShouldPrune(now int64) bool {
	return now >= b.LifetimeEnd()
}

// Identity is the subset of a connecting or connected user's identity
// a ban is matched against.
type Identity struct {
	Ident   string
	Host    string
	IP      string
	Nick    string
	Channel string
}

// Matches evaluates whether this ban applies to u, per spec.md §4.7:
// K-line matches ident@host and ident@ip; D-line matches ip; resv and
// nick-delay match a nick or channel name.
func (b *Ban) Matches(u Identity) bool {
	switch b.Type {
	case KLine:
		if !channel.MatchMask(b.MatchUser, u.Ident) {
			return false
		}
		return channel.MatchMask(b.MatchHost, u.Host) || channel.MatchMask(b.MatchHost, u.IP)
	case DLine:
		return channel.MatchMask(b.Match, u.IP)
	case Resv:
		return channel.MatchMask(b.Match, u.Nick) || channel.MatchMask(b.Match, u.Channel)
	case NickDelay:
		return channel.MatchMask(b.Match, u.Nick)
	default:
		return false
	}
}

// ComputeID derives the global ban identity "{sid}.{fnv1a(mask)}".
// The mask is lowercase-normalized before hashing (FNV-1a 32-bit) so
// identical bans phrased with different casing converge, matching
// legacy peers' wire contract (spec.md §9).
func ComputeID(sid, mask string) string {
	h := fnv.New32a()
	h.Write([]byte(strings.ToLower(mask)))
	return fmt.Sprintf("%s.%d", sid, h.Sum32())
}

// splitUserHost splits a "user@host" K-line input on the first '@'.
func splitUserHost(text string) (user, host string) {
	i := strings.IndexByte(text, '@')
	if i < 0 {
		return text, ""
	}
	return text[:i], text[i+1:]
}

// Agent is a per-peer synthetic ban-agent user, introduced on first
// burst when a ban needs a user source the link lacks and retired
// once the burst's outbound bans are flushed (spec.md §4.6 step 5,
// §9 "Ban agent").
type Agent struct {
	UID        string
	PeerSID    string
	introduced bool
}

// NewAgent allocates an agent for a peer; it is not yet introduced.
func NewAgent(uid, peerSID string) *Agent {
	return &Agent{UID: uid, PeerSID: peerSID}
}

// Introduce marks the agent live and returns the actor identity a
// caller should register/advertise before using it as a ban source.
func (a *Agent) Introduce() actor.Actor {
	a.introduced = true
	return actor.User{UID: a.UID}
}

// Introduced reports whether Introduce has been called.
func (a *Agent) Introduced() bool { return a.introduced }

// Retire marks the agent as no longer needed; the caller is
// responsible for actually quitting it off the link.
func (a *Agent) Retire() { a.introduced = false }

// Engine is the ban table plus per-peer burst/agent bookkeeping.
type Engine struct {
	bans       map[string]*Ban
	negotiated map[string]bool
	agents     map[string]*Agent
}

// New returns an empty ban engine.
func New() *Engine {
	return &Engine{
		bans:       make(map[string]*Ban),
		negotiated: make(map[string]bool),
		agents:     make(map[string]*Agent),
	}
}

// CreateOrUpdate is the upsert-by-id of spec.md §4.7: a ban sharing
// fields.ID with an existing record replaces it only if fields is
// strictly newer (by Modified); otherwise the existing record is
// returned untouched. warning is non-empty when an update silently
// changes a ban's Type, a documented gap rather than a rejected
// update.
func (e *Engine) CreateOrUpdate(fields Ban) (ban *Ban, warning string) {
	existing, ok := e.bans[fields.ID]
	if !ok {
		b := fields
		e.bans[fields.ID] = &b
		return &b, ""
	}
	if existing.Type != fields.Type {
		warning = fmt.Sprintf("ban %s: type changed from %s to %s on update", fields.ID, existing.Type, fields.Type)
	}
	if fields.Modified > existing.Modified {
		*existing = fields
	}
	return existing, warning
}

// Get looks a ban up by its global id.
func (e *Engine) Get(id string) (*Ban, bool) {
	b, ok := e.bans[id]
	return b, ok
}

// Delete removes a ban outright (used for duration-0 "BAN ... set"
// legacy deletions and explicit UNKLINE/UNRESV/UNDLINE).
func (e *Engine) Delete(id string) {
	delete(e.bans, id)
}

// BanByUserInput performs the semantic lookup of spec.md §4.7, used
// when a peer deletes by textual mask rather than by id: K-lines
// split on '@', D-lines match the IP literal, resv/nick-delay match
// the mask verbatim.
func (e *Engine) BanByUserInput(t Type, text string) (*Ban, error) {
	switch t {
	case KLine:
		user, host := splitUserHost(text)
		for _, b := range e.bans {
			if b.Type == KLine && b.MatchUser == user && b.MatchHost == host {
				return b, nil
			}
		}
	case DLine:
		for _, b := range e.bans {
			if b.Type == DLine && b.Match == text {
				return b, nil
			}
		}
	case Resv, NickDelay:
		for _, b := range e.bans {
			if b.Type == t && b.Match == text {
				return b, nil
			}
		}
	}
	return nil, errors.Errorf("banengine: no %s ban matches %q", t, text)
}

// Prune removes every ban that has outlived its lifetime, returning
// the ids removed.
func (e *Engine) Prune(now int64) []string {
	var pruned []string
	for id, b := range e.bans {
		if b.ShouldPrune(now) {
			delete(e.bans, id)
			pruned = append(pruned, id)
		}
	}
	return pruned
}

// Retained returns every ban still active at now, suitable for burst
// advertisement — expired bans are never advertised (spec.md §4.7).
func (e *Engine) Retained(now int64) []*Ban {
	var out []*Ban
	for _, b := range e.bans {
		if b.Active(now) {
			out = append(out, b)
		}
	}
	return out
}

// NegotiateBurst reports whether this is the first burst seen for
// peerSID, consuming the one-shot flag on the way (spec.md §4.7
// "bans_negotiated").
func (e *Engine) NegotiateBurst(peerSID string) bool {
	if e.negotiated[peerSID] {
		return false
	}
	e.negotiated[peerSID] = true
	return true
}

// ResetBurst clears a peer's negotiated flag, e.g. on relink.
func (e *Engine) ResetBurst(peerSID string) {
	delete(e.negotiated, peerSID)
}

// AgentFor returns the synthetic ban agent currently tracked for a
// peer, if any.
func (e *Engine) AgentFor(peerSID string) (*Agent, bool) {
	a, ok := e.agents[peerSID]
	return a, ok
}

// SetAgent installs the synthetic ban agent for a peer.
func (e *Engine) SetAgent(a *Agent) {
	e.agents[a.PeerSID] = a
}

// ClearAgent drops a peer's tracked synthetic ban agent once retired.
func (e *Engine) ClearAgent(peerSID string) {
	delete(e.agents, peerSID)
}
