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
	"strings"

	"github.com/lindleyw/juno/internal/actor"
	"github.com/lindleyw/juno/internal/channel"
	"github.com/lindleyw/juno/internal/cmode"
	"github.com/lindleyw/juno/internal/modeapply"
)

// NumericReply renders one server numeric line in
// ThomasHabets-goircd/client.go's ReplyNicknamed shape:
// ":<server> <code> <nick> <rest...> :<trailing>".
func NumericReply(serverName, code, nick string, rest ...string) string {
	parts := append([]string{code, nick}, rest...)
	parts[len(parts)-1] = ":" + parts[len(parts)-1]
	return ":" + serverName + " " + strings.Join(parts, " ")
}

// ApplyLocalModes runs a local user's MODE command through the shared
// Mode Applicator, handling the two local-only error cases spec.md §7
// names that the applicator itself cannot produce because it never
// sees nicknames or a connection to reply on:
//
//   - "Missing target" — a status-mode change whose parameter doesn't
//     resolve to a known nickname is dropped before it ever reaches
//     the applicator, and ERR_NOSUCHNICK is queued for it.
//   - "Permission denied" — every NoPrivsEvent the applicator returns
//     becomes ERR_CHANOPRIVSNEEDED (or the blocking hook's custom
//     text).
//
// Everything else — which modes exist, who outranks whom — is still
// decided entirely by modeapply.Applicator.Apply.
func (p *Pool) ApplyLocalModes(serverName string, ch *channel.Channel, source *User, changes []cmode.Change) (applied []modeapply.LogEntry, replies []string) {
	tbl := p.applicator.Table
	srcActor := actor.User{UID: source.UID}

	resolved := make([]cmode.Change, 0, len(changes))
	for _, c := range changes {
		def, ok := tbl.ByLetter(c.Letter)
		if !ok {
			def, ok = tbl.ByName(c.Name)
		}
		if ok && def.Kind == cmode.Status && c.HasParam {
			target, found := p.UserByNick(c.Param)
			if !found {
				replies = append(replies, NumericReply(serverName, "401", source.Nick, c.Param, "No such nick/channel"))
				continue
			}
			c.Param = target.UID
		}
		resolved = append(resolved, c)
	}

	applied, noPrivs := p.applicator.Apply(ch, srcActor, resolved, false, false)
	for _, np := range noPrivs {
		reply := np.CustomReply
		if reply == "" {
			reply = "You're not channel operator"
		}
		replies = append(replies, NumericReply(serverName, "482", source.Nick, ch.Name, reply))
	}
	return applied, replies
}
