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

// Package pool is spec.md §5's process-wide singleton: the
// sid→server, uid→user, name→channel maps plus the single-threaded
// scheduler glue that wires the Mode Applicator, Ban Engine, Event
// Bus and TS6 Translator together. It is the direct generalization of
// ThomasHabets-goircd's Daemon, scoped to mesh state instead of a
// single flat room/client namespace.
package pool

import (
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc"

	"github.com/lindleyw/juno/internal/actor"
	"github.com/lindleyw/juno/internal/banengine"
	"github.com/lindleyw/juno/internal/channel"
	"github.com/lindleyw/juno/internal/cmode"
	"github.com/lindleyw/juno/internal/eventbus"
	"github.com/lindleyw/juno/internal/modeapply"
	"github.com/lindleyw/juno/internal/tsproto"
)

// NoticeOperatorsEvent is the eventbus.Event.Name for the operator
// notice sink spec.md §7 describes ("record an operator notice"). Any
// number of listeners (a local-oper broadcaster, a log sink) may
// subscribe; the pool itself only ever fires it.
const NoticeOperatorsEvent = "server.notice_opers"

// Server is a peer mesh member, spec.md §3. Caps is populated from
// its CAPAB burst line (tsproto.ParseCapabs).
type Server struct {
	SID     string
	Name    string
	TS6SID  string
	Caps    map[string]bool
	IsBurst bool
}

// User is a local or remote client, spec.md §3. ServerSID is the
// origin (derived from the UID's own SID prefix); LocationSID is the
// directly-linked neighbor the pool learned it through, which differs
// from ServerSID once the user's introduction has crossed more than
// one hop of the mesh.
type User struct {
	UID         string
	Nick        string
	Ident       string
	Host        string
	Cloak       string
	IP          string
	Real        string
	Account     string
	Modes       map[string]bool
	ServerSID   string
	LocationSID string
}

// Link is the transport seam: anything able to frame and deliver a
// TS6 line to one peer. The I/O transport itself is out of scope
// (spec.md §1); Pool only ever calls Send.
type Link interface {
	Send(f tsproto.Frame)
}

// Peer bundles a mesh Server with its outbound Link and its own
// mode-letter perspective (peers may run forks with different
// letter↔name tables). Per-peer ban-burst and agent state is kept in
// banengine.Engine, keyed by SID.
type Peer struct {
	Server *Server
	Link   Link
	Table  *cmode.Table
}

// Pool is the process-wide state container. Every field is read
// freely and mutated by any handler; correctness rests solely on the
// single-threaded cooperative scheduler contract of spec.md §5 — Pool
// itself holds no locks.
type Pool struct {
	Log    *logrus.Logger
	Events *eventbus.Bus
	Clock  func() int64

	defaultTable *cmode.Table
	applicator   *modeapply.Applicator
	bans         *banengine.Engine

	servers  map[string]*Server
	users    map[string]*User
	channels map[string]*channel.Channel
	peers    map[string]*Peer
}

// New builds an empty Pool. defaultTable seeds the mode perspective
// used for peers that never send their own table (and for purely
// local channel creation); applicator and bans are the two
// components spec.md §2 requires all mutation to flow through.
func New(defaultTable *cmode.Table, applicator *modeapply.Applicator, bans *banengine.Engine, log *logrus.Logger) *Pool {
	return &Pool{
		Log:          log,
		Events:       eventbus.New(),
		Clock:        func() int64 { return time.Now().Unix() },
		defaultTable: defaultTable,
		applicator:   applicator,
		bans:         bans,
		servers:      make(map[string]*Server),
		users:        make(map[string]*User),
		channels:     make(map[string]*channel.Channel),
		peers:        make(map[string]*Peer),
	}
}

// AddPeer introduces a directly-linked server and its transport.
// table may be nil, in which case ModeTable falls back to the default
// perspective.
func (p *Pool) AddPeer(srv *Server, link Link, table *cmode.Table) {
	p.servers[srv.SID] = srv
	p.peers[srv.SID] = &Peer{Server: srv, Link: link, Table: table}
}

// RemovePeer tears down a link's server and every user it was the
// location for, per spec.md §9's "remove always breaks both edges".
// Channels are left behind empty rather than destroyed here; callers
// that want immediate cleanup should follow up with a pass over
// channel.DestroyMaybe per affected channel.
func (p *Pool) RemovePeer(sid string) {
	delete(p.peers, sid)
	delete(p.servers, sid)
	for uid, u := range p.users {
		if u.LocationSID == sid {
			p.removeUserEverywhere(uid)
		}
	}
}

func (p *Pool) removeUserEverywhere(uid string) {
	delete(p.users, uid)
	for _, ch := range p.channels {
		if ch.Has(uid) {
			ch.Remove(uid)
		}
	}
}

// Server looks up a known mesh server by SID.
func (p *Pool) Server(sid string) (*Server, bool) {
	s, ok := p.servers[sid]
	return s, ok
}

// User looks up a known user by full UID.
func (p *Pool) User(uid string) (*User, bool) {
	u, ok := p.users[uid]
	return u, ok
}

// UserByNick does a case-insensitive nickname scan, the pool
// generalization of goircd.SendWhois's linear client search.
func (p *Pool) UserByNick(nick string) (*User, bool) {
	nick = strings.ToLower(nick)
	for _, u := range p.users {
		if strings.ToLower(u.Nick) == nick {
			return u, true
		}
	}
	return nil, false
}

// Applicator exposes the shared Mode Applicator.
func (p *Pool) Applicator() *modeapply.Applicator { return p.applicator }

// Bans exposes the shared Ban Engine.
func (p *Pool) Bans() *banengine.Engine { return p.bans }

// --- tsproto.Context ---

// ModeTable returns the mode perspective to decode peerSID's frames
// with: its own negotiated table if one was recorded at link-up, else
// the pool's default.
func (p *Pool) ModeTable(peerSID string) *cmode.Table {
	if peer, ok := p.peers[peerSID]; ok && peer.Table != nil {
		return peer.Table
	}
	return p.defaultTable
}

// Channel returns the named channel, creating it (timestamped at
// Now()) on first reference.
func (p *Pool) Channel(name string) *channel.Channel {
	if ch, ok := p.channels[name]; ok {
		return ch
	}
	ch := channel.New(name, p.Now())
	p.channels[name] = ch
	return ch
}

// LocatedLocally reports whether uid is actually known to be reached
// through peerSID. channel.Resolve uses this to refuse to apply
// status tokens for a UID the sending link has no business claiming —
// spec.md §4.5's "located locally" filter.
func (p *Pool) LocatedLocally(peerSID, uid string) bool {
	u, ok := p.users[uid]
	return ok && u.LocationSID == peerSID
}

// ResolveActor turns a bare id (uid or sid) into its Actor, for
// attributing a command's source.
func (p *Pool) ResolveActor(id string) (actor.Actor, bool) {
	if _, ok := p.users[id]; ok {
		return actor.User{UID: id}, true
	}
	if _, ok := p.servers[id]; ok {
		return actor.Server{SID: id}, true
	}
	return nil, false
}

// RegisterUser introduces a user learned via peerSID. Per spec.md §7,
// a UID already present is never merged — it is a protocol error the
// caller must disconnect the link over.
func (p *Pool) RegisterUser(intro tsproto.UserIntro, peerSID string) error {
	if _, exists := p.users[intro.UID]; exists {
		return tsproto.ErrUIDCollision
	}
	origin := peerSID
	if len(intro.UID) == 9 {
		origin = intro.UID[:3]
	}
	u := &User{
		UID: intro.UID, Nick: intro.Nick, Ident: intro.Ident, Host: intro.Host,
		Cloak: intro.Cloak, IP: intro.IP, Real: intro.Real, Account: intro.Account,
		Modes: make(map[string]bool), ServerSID: origin, LocationSID: peerSID,
	}
	for _, m := range intro.UModes {
		if m != '+' {
			u.Modes[string(m)] = true
		}
	}
	p.users[intro.UID] = u
	p.Events.Fire("user.new", u)
	return nil
}

// Now returns the pool's notion of the current time: real wall clock
// by default, overridable (Clock) so tests can drive ban expiry and
// channel-creation timestamps deterministically.
func (p *Pool) Now() int64 { return p.Clock() }

// NoticeOperators fans a formatted operator notice out through the
// event bus (spec.md §7's notice sink) and logs it at warn level.
func (p *Pool) NoticeOperators(format string, args ...interface{}) {
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	if p.Log != nil {
		p.Log.Warn(msg)
	}
	p.Events.Fire(NoticeOperatorsEvent, msg)
}

// Forward relays f to every linked peer other than its origin,
// concurrently bounded by a conc.WaitGroup — a link's Send may block
// on its own outbound buffer (spec.md §5's backpressure note), and
// one slow peer must not delay delivery to the rest.
func (p *Pool) Forward(fromPeerSID string, f tsproto.Frame) {
	var wg conc.WaitGroup
	for sid, peer := range p.peers {
		if sid == fromPeerSID {
			continue
		}
		peer := peer
		wg.Go(func() { peer.Link.Send(f) })
	}
	wg.Wait()
}
