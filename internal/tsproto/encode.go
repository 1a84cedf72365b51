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

package tsproto

import (
	"github.com/pkg/errors"

	"github.com/lindleyw/juno/internal/actor"
	"github.com/lindleyw/juno/internal/banengine"
)

// ErrDropExpired is returned when a relative duration computed for a
// non-BAN propagation form is already <= 0 (spec.md §4.6).
var ErrDropExpired = errors.New("tsproto: ban already expired, dropping propagation")

// ErrNoSource is returned when no user/server can be attributed as a
// ban's propagation source and no synthetic agent is available
// (spec.md §4.6 step on source selection, §7 "missing source for
// outbound").
var ErrNoSource = errors.New("tsproto: no suitable source for outbound ban")

// resolveSource picks the actor to attribute an outbound ban frame
// to: the ban's own recent source if it satisfies requireUser, else
// the peer's synthetic ban agent (introduced on demand), else
// ErrNoSource.
func resolveSource(b *banengine.Ban, agent *banengine.Agent, requireUser bool) (actor.Actor, error) {
	if b.RecentSource != nil && (!requireUser || !b.RecentSource.IsServer()) {
		return b.RecentSource, nil
	}
	if agent != nil {
		return agent.Introduce(), nil
	}
	return nil, ErrNoSource
}

// EncodeKLine picks the strongest form the peer's capability set
// supports, per spec.md §4.6: BAN (absolute fields) > KLN (relative
// duration, direct KLINE) > ENCAP * KLINE fallback.
func EncodeKLine(caps map[string]bool, b *banengine.Ban, agent *banengine.Agent, now int64) (Frame, error) {
	if caps["BAN"] {
		src, err := resolveSource(b, agent, false)
		if err != nil {
			return Frame{}, err
		}
		return Frame{Source: src.ID(), Command: "BAN", Trailing: true, Params: []string{
			"K", b.MatchUser, b.MatchHost, i64(b.Modified), i64(b.Duration), i64(b.Lifetime),
			operOrStar(b.AUser), b.Reason,
		}}, nil
	}

	rel := b.Expires() - now
	if rel <= 0 {
		return Frame{}, ErrDropExpired
	}
	src, err := resolveSource(b, agent, true)
	if err != nil {
		return Frame{}, err
	}
	if caps["KLN"] {
		return Frame{Source: src.ID(), Command: "KLINE", Trailing: true, Params: []string{"*", i64(rel), b.MatchUser, b.MatchHost, b.Reason}}, nil
	}
	return Frame{Source: src.ID(), Command: "ENCAP", Trailing: true, Params: []string{"*", "KLINE", i64(rel), b.MatchUser, b.MatchHost, b.Reason}}, nil
}

// EncodeUnkline mirrors EncodeKLine's capability selection for
// removal: BAN with duration 0 (legacy delete overload), else direct
// UNKLINE, else ENCAP * UNKLINE.
func EncodeUnkline(caps map[string]bool, b *banengine.Ban, agent *banengine.Agent) (Frame, error) {
	if caps["BAN"] {
		src, err := resolveSource(b, agent, false)
		if err != nil {
			return Frame{}, err
		}
		return Frame{Source: src.ID(), Command: "BAN", Params: []string{
			"K", b.MatchUser, b.MatchHost, i64(b.Modified), "0", "0", operOrStar(b.AUser), "",
		}}, nil
	}
	src, err := resolveSource(b, agent, true)
	if err != nil {
		return Frame{}, err
	}
	if caps["KLN"] || caps["UNKLN"] {
		return Frame{Source: src.ID(), Command: "UNKLINE", Params: []string{"*", b.MatchUser, b.MatchHost}}, nil
	}
	return Frame{Source: src.ID(), Command: "ENCAP", Params: []string{"*", "UNKLINE", b.MatchUser, b.MatchHost}}, nil
}

// EncodeDLine always uses ENCAP * DLINE — spec.md §4.6 gives D-lines
// no BAN/direct fallback.
func EncodeDLine(b *banengine.Ban, agent *banengine.Agent, now int64) (Frame, error) {
	rel := b.Expires() - now
	if rel <= 0 {
		return Frame{}, ErrDropExpired
	}
	src, err := resolveSource(b, agent, true)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Source: src.ID(), Command: "ENCAP", Trailing: true, Params: []string{"*", "DLINE", i64(rel), b.Match, b.Reason}}, nil
}

// EncodeUndline always uses ENCAP * UNDLINE.
func EncodeUndline(b *banengine.Ban, agent *banengine.Agent) (Frame, error) {
	src, err := resolveSource(b, agent, true)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Source: src.ID(), Command: "ENCAP", Params: []string{"*", "UNDLINE", b.Match}}, nil
}

// EncodeResv prefers BAN (type R) when supported, else ENCAP * RESV.
// A nick-delay ban never takes this path — see EncodeNickDelay.
func EncodeResv(caps map[string]bool, b *banengine.Ban, agent *banengine.Agent, now int64) (Frame, error) {
	if caps["BAN"] {
		src, err := resolveSource(b, agent, false)
		if err != nil {
			return Frame{}, err
		}
		return Frame{Source: src.ID(), Command: "BAN", Trailing: true, Params: []string{
			"R", b.Match, "*", i64(b.Modified), i64(b.Duration), i64(b.Lifetime), operOrStar(b.AUser), b.Reason,
		}}, nil
	}
	rel := b.Expires() - now
	if rel <= 0 {
		return Frame{}, ErrDropExpired
	}
	src, err := resolveSource(b, agent, true)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Source: src.ID(), Command: "ENCAP", Trailing: true, Params: []string{"*", "RESV", i64(rel), b.Match, "0", b.Reason}}, nil
}

// EncodeUnresv mirrors EncodeResv's capability selection for removal.
func EncodeUnresv(caps map[string]bool, b *banengine.Ban, agent *banengine.Agent) (Frame, error) {
	if caps["BAN"] {
		src, err := resolveSource(b, agent, false)
		if err != nil {
			return Frame{}, err
		}
		return Frame{Source: src.ID(), Command: "BAN", Params: []string{
			"R", b.Match, "*", i64(b.Modified), "0", "0", operOrStar(b.AUser), "",
		}}, nil
	}
	src, err := resolveSource(b, agent, true)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Source: src.ID(), Command: "ENCAP", Params: []string{"*", "UNRESV", b.Match}}, nil
}

// EncodeNickDelay is always ENCAP * NICKDELAY from a server source,
// regardless of capabilities; duration 0 means removal.
func EncodeNickDelay(b *banengine.Ban, sourceSID string, now int64) (Frame, error) {
	rel := b.Expires() - now
	if rel <= 0 {
		return Frame{}, ErrDropExpired
	}
	return Frame{Source: sourceSID, Command: "ENCAP", Params: []string{"*", "NICKDELAY", i64(rel), b.Match}}, nil
}

// EncodeNickDelayRemoval emits the duration-0 removal form.
func EncodeNickDelayRemoval(nick, sourceSID string) Frame {
	return Frame{Source: sourceSID, Command: "ENCAP", Params: []string{"*", "NICKDELAY", "0", nick}}
}
