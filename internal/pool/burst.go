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
package pool

import (
	"github.com/pkg/errors"
	"github.com/sourcegraph/conc"

	"github.com/lindleyw/juno/internal/banengine"
	"github.com/lindleyw/juno/internal/tsproto"
)

// BurstBansTo advertises every currently-active ban to peerSID, once
// per link per spec.md §4.7's one-shot negotiated-burst flag. Bans
// already expired by the time the burst runs are silently skipped —
// spec.md §8 scenario 4 — and a ban with no attributable source is
// reported via an operator notice and dropped (§7 "missing source for
// outbound") rather than failing the whole burst. Frames go to the peer
// one after another, in the order they were encoded, and a synthetic
// ban agent introduced along the way is retired once all are sent.
func (p *Pool) BurstBansTo(peerSID string) {
	if !p.bans.NegotiateBurst(peerSID) {
		return
	}
	peer, ok := p.peers[peerSID]
	if !ok {
		return
	}
	now := p.Now()
	agent, _ := p.bans.AgentFor(peerSID)

	for _, b := range p.bans.Retained(now) {
		b := b
		f, err := p.encodeBanFor(peer, b, agent, now)
		if err != nil {
			if errors.Is(err, tsproto.ErrDropExpired) {
				continue
			}
			p.NoticeOperators("dropping outbound ban %s to %s: %v", b.ID, peerSID, err)
			continue
		}
		peer.Link.Send(f)
	}
	if agent != nil && agent.Introduced() {
		agent.Retire()
	}
}

func (p *Pool) encodeBanFor(peer *Peer, b *banengine.Ban, agent *banengine.Agent, now int64) (tsproto.Frame, error) {
	switch b.Type {
	case banengine.KLine:
		return tsproto.EncodeKLine(peer.Server.Caps, b, agent, now)
	case banengine.DLine:
		return tsproto.EncodeDLine(b, agent, now)
	case banengine.Resv:
		return tsproto.EncodeResv(peer.Server.Caps, b, agent, now)
	case banengine.NickDelay:
		return tsproto.EncodeNickDelay(b, peer.Server.SID, now)
	default:
		return tsproto.Frame{}, tsproto.ErrNoSource
	}
}

// PropagateBanRemoval sends the removal form of b to every linked
// peer except fromPeerSID, mirroring Forward's fan-out for deletions
// (which, unlike creation, are never re-derived from Retained).
func (p *Pool) PropagateBanRemoval(fromPeerSID string, b *banengine.Ban) {
	var wg conc.WaitGroup
	for sid, peer := range p.peers {
		if sid == fromPeerSID {
			continue
		}
		peer := peer
		agent, _ := p.bans.AgentFor(sid)
		f, err := p.encodeBanRemoval(peer, b, agent)
		if err != nil {
			p.NoticeOperators("dropping ban removal %s to %s: %v", b.ID, sid, err)
			continue
		}
		wg.Go(func() { peer.Link.Send(f) })
	}
	wg.Wait()
}

func (p *Pool) encodeBanRemoval(peer *Peer, b *banengine.Ban, agent *banengine.Agent) (tsproto.Frame, error) {
	switch b.Type {
	case banengine.KLine:
		return tsproto.EncodeUnkline(peer.Server.Caps, b, agent)
	case banengine.DLine:
		return tsproto.EncodeUndline(b, agent)
	case banengine.Resv:
		return tsproto.EncodeUnresv(peer.Server.Caps, b, agent)
	case banengine.NickDelay:
		return tsproto.EncodeNickDelayRemoval(b.Match, peer.Server.SID), nil
	default:
		return tsproto.Frame{}, tsproto.ErrNoSource
	}
}

// PruneBans drives the advisory expiry tick spec.md §5 describes
// ("ban expiry timers are advisory — pruning is a pass driven by a
// periodic tick, not real-time"). It returns the IDs removed, mostly
// useful for logging/tests.
func (p *Pool) PruneBans() []string {
	return p.bans.Prune(p.Now())
}
