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

	"github.com/lindleyw/juno/internal/cmode"
	"github.com/lindleyw/juno/internal/tsproto"
)

func uidIntro(uid, nick string) tsproto.UserIntro {
	return tsproto.UserIntro{UID: uid, Nick: nick}
}

func TestApplyLocalModesNoSuchNickSkipsChangeButContinues(t *testing.T) {
	p := newTestPool()
	p.Clock = func() int64 { return 1000 }
	require.NoError(t, p.RegisterUser(uidIntro("001AAAAAA", "op"), "self"))
	ch := p.Channel("#x")
	ch.Add("001AAAAAA")
	ch.AddStatus("op", "001AAAAAA")
	op, _ := p.User("001AAAAAA")

	changes := []cmode.Change{
		{Name: "op", Letter: 'o', Kind: cmode.Status, Add: true, Param: "ghost", HasParam: true},
		{Name: "moderated", Letter: 'm', Kind: cmode.Normal, Add: true},
	}
	applied, replies := p.ApplyLocalModes("irc.example", ch, op, changes)

	require.Len(t, applied, 1)
	require.Equal(t, "moderated", applied[0].Name)
	require.Len(t, replies, 1)
	require.Equal(t, ":irc.example 401 op ghost :No such nick/channel", replies[0])
}

func TestApplyLocalModesResolvesNickToUID(t *testing.T) {
	p := newTestPool()
	require.NoError(t, p.RegisterUser(uidIntro("001AAAAAA", "op"), "self"))
	require.NoError(t, p.RegisterUser(uidIntro("001AAAAAB", "voicee"), "self"))
	ch := p.Channel("#x")
	ch.Add("001AAAAAA")
	ch.Add("001AAAAAB")
	ch.AddStatus("op", "001AAAAAA")
	op, _ := p.User("001AAAAAA")

	changes := []cmode.Change{
		{Name: "voice", Letter: 'v', Kind: cmode.Status, Add: true, Param: "voicee", HasParam: true},
	}
	applied, replies := p.ApplyLocalModes("irc.example", ch, op, changes)

	require.Empty(t, replies)
	require.Len(t, applied, 1)
	require.Equal(t, "001AAAAAB", applied[0].Param)
	require.True(t, ch.HasStatus("voice", "001AAAAAB"))
}

func TestApplyLocalModesNoPrivsBecomesNumeric(t *testing.T) {
	p := newTestPool()
	require.NoError(t, p.RegisterUser(uidIntro("001AAAAAA", "plain"), "self"))
	ch := p.Channel("#x")
	ch.Add("001AAAAAA")
	plain, _ := p.User("001AAAAAA")

	changes := []cmode.Change{
		{Name: "moderated", Letter: 'm', Kind: cmode.Normal, Add: true},
	}
	applied, replies := p.ApplyLocalModes("irc.example", ch, plain, changes)

	require.Empty(t, applied)
	require.Equal(t, []string{":irc.example 482 plain #x :You're not channel operator"}, replies)
}
