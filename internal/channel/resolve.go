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

package channel

import "github.com/lindleyw/juno/internal/cmode"

// Token is one decoded SJOIN nicklist entry: the status prefix
// characters a peer claims for a UID (e.g. "@" or "@+"), and the UID
// itself, per spec.md §4.5 step 5's "^(<prefix-chars>)(<uid>)$".
type Token struct {
	Prefixes []byte
	UID      string
}

// Result is what Resolve computed: a diff ready to be committed
// through the mode applicator with force=true (spec.md §4.5 step 8),
// and the UIDs that were actually joined (physically located at the
// advertising peer and newly added).
type Result struct {
	Diff   []cmode.Change
	Joined []string
}

// Resolve runs the SJOIN timestamp collision algorithm of spec.md
// §4.5 against an incoming advertisement of ts/simple-mode-changes/
// nicklist tokens. incomingSimple is the peer's modestr already
// parsed against tbl (Normal/Parameter/ParameterSet/List/Key changes
// only — status never travels in the SJOIN modestr itself, only via
// token prefixes). locatedLocally reports whether a UID is physically
// at the server that sent this SJOIN, i.e. whether we should actually
// join it here (step 5).
//
// Resolve mutates ch directly for membership and, when the peer's TS
// wins, for wiping stale simple/status state (step 4); it does not
// apply incomingSimple or the status grants itself — those come back
// in Result.Diff for the caller to commit via the mode applicator, so
// that propagation/permission bookkeeping stays centralized there.
func Resolve(ch *Channel, tbl *cmode.Table, ts int64, incomingSimple []cmode.Change, tokens []Token, locatedLocally func(uid string) bool) Result {
	oldTime := ch.Time

	newTime := ts
	if ch.Time < newTime {
		newTime = ch.Time
	}
	ch.TakeLowerTime(newTime, true)

	const (
		theirsWin = iota
		tie
		oursWin
	)
	var outcome int
	switch {
	case ts < oldTime:
		outcome = theirsWin
	case ts == oldTime:
		outcome = tie
	default:
		outcome = oursWin
	}

	var revert []cmode.Change
	if outcome == theirsWin {
		oldStatus := ch.wipeSimpleAndStatus()
		for uid, names := range oldStatus {
			for _, name := range names {
				revert = append(revert, cmode.Change{
					Name: name, Kind: cmode.Status, Add: false,
					Param: uid, HasParam: true,
				})
			}
		}
	}

	var joined []string
	var statusGrants []cmode.Change
	for _, tok := range tokens {
		if !locatedLocally(tok.UID) {
			continue
		}
		if !ch.Has(tok.UID) {
			ch.Add(tok.UID)
			joined = append(joined, tok.UID)
		}
		if outcome == oursWin {
			continue
		}
		for _, pfx := range tok.Prefixes {
			def, ok := tbl.ByPrefix(pfx)
			if !ok {
				continue
			}
			statusGrants = append(statusGrants, cmode.Change{
				Name: def.Name, Letter: def.Letter, Kind: cmode.Status,
				Add: true, Param: tok.UID, HasParam: true,
			})
		}
	}

	var diff []cmode.Change
	if outcome != oursWin {
		diff = append(diff, incomingSimple...)
		diff = append(diff, revert...)
		diff = append(diff, statusGrants...)
	}

	return Result{Diff: diff, Joined: joined}
}

// wipeSimpleAndStatus clears every non-status mode outright and empties
// every status list, returning the status grants that were revoked
// (uid -> mode names) so the caller can emit their reversal.
func (c *Channel) wipeSimpleAndStatus() map[string][]string {
	old := make(map[string][]string)
	for name, mv := range c.Modes {
		if mv.Kind == cmode.Status {
			for _, uid := range mv.Users {
				old[uid] = append(old[uid], name)
			}
			mv.Users = nil
			continue
		}
		delete(c.Modes, name)
	}
	return old
}
