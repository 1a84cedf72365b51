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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lindleyw/juno/internal/actor"
	"github.com/lindleyw/juno/internal/banengine"
	"github.com/lindleyw/juno/internal/eventbus"
)

// TestBurstBansToSkipsExpiredBan reproduces spec.md §8 scenario 4: a
// K-line created at t=1000 with duration 300 is already expired by
// the time a burst at t=1400 runs, so no KLINE frame is emitted for
// it.
func TestBurstBansToSkipsExpiredBan(t *testing.T) {
	p := newTestPool()
	p.Clock = func() int64 { return 1400 }
	p.bans.CreateOrUpdate(banengine.Ban{
		ID: "001.1", Type: banengine.KLine, MatchUser: "user", MatchHost: "host",
		Modified: 1000, Duration: 300, Lifetime: 600,
		RecentSource: actor.User{UID: "001AAAAAA"},
	})
	link := &fakeLink{}
	p.AddPeer(&Server{SID: "002", Caps: map[string]bool{"KLN": true}}, link, nil)

	p.BurstBansTo("002")

	require.Empty(t, link.sent)
}

// TestBurstBansToFallbackChain exercises spec.md §8 scenario 5's
// capability-gated encoder selection during a burst.
func TestBurstBansToFallbackChain(t *testing.T) {
	p := newTestPool()
	p.Clock = func() int64 { return 1000 }
	p.bans.CreateOrUpdate(banengine.Ban{
		ID: "001.1", Type: banengine.KLine, MatchUser: "user", MatchHost: "host", Reason: "reason",
		Modified: 1000, Duration: 300, Lifetime: 600,
		RecentSource: actor.User{UID: "001AAAAAA"},
	})
	link := &fakeLink{}
	p.AddPeer(&Server{SID: "002", Caps: map[string]bool{"BAN": true}}, link, nil)

	p.BurstBansTo("002")

	require.Len(t, link.sent, 1)
	require.Equal(t, ":001AAAAAA BAN K user host 1000 300 600 * :reason", link.sent[0].String())
}

// TestBurstBansToIsOneShotPerPeer covers the "bans_negotiated" flag:
// a second burst to the same peer sends nothing further.
func TestBurstBansToIsOneShotPerPeer(t *testing.T) {
	p := newTestPool()
	p.Clock = func() int64 { return 1000 }
	p.bans.CreateOrUpdate(banengine.Ban{
		ID: "001.1", Type: banengine.KLine, MatchUser: "user", MatchHost: "host",
		Modified: 1000, Duration: 300, Lifetime: 600,
		RecentSource: actor.User{UID: "001AAAAAA"},
	})
	link := &fakeLink{}
	p.AddPeer(&Server{SID: "002", Caps: map[string]bool{"BAN": true}}, link, nil)

	p.BurstBansTo("002")
	require.Len(t, link.sent, 1)

	p.BurstBansTo("002")
	require.Len(t, link.sent, 1)
}

// TestBurstBansToNoticesWhenNoSource covers §7's "missing source for
// outbound" path: a ban with neither a user RecentSource nor an agent
// is dropped with an operator notice, not silently lost from the loop.
func TestBurstBansToNoticesWhenNoSource(t *testing.T) {
	p := newTestPool()
	p.Clock = func() int64 { return 1000 }
	p.bans.CreateOrUpdate(banengine.Ban{
		ID: "001.1", Type: banengine.KLine, MatchUser: "user", MatchHost: "host",
		Modified: 1000, Duration: 300, Lifetime: 600,
	})
	link := &fakeLink{}
	p.AddPeer(&Server{SID: "002", Caps: map[string]bool{"KLN": true}}, link, nil)

	var notices int
	p.Events.On(NoticeOperatorsEvent, func(eventbus.Event) bool {
		notices++
		return false
	})

	p.BurstBansTo("002")

	require.Empty(t, link.sent)
	require.Equal(t, 1, notices)
}

func TestPruneBansDelegatesToEngine(t *testing.T) {
	p := newTestPool()
	p.Clock = func() int64 { return 1700 }
	p.bans.CreateOrUpdate(banengine.Ban{
		ID: "001.1", Type: banengine.KLine, Modified: 1000, Duration: 300, Lifetime: 600,
	})

	removed := p.PruneBans()
	require.Equal(t, []string{"001.1"}, removed)
}
