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
	"strconv"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/lindleyw/juno/internal/actor"
	"github.com/lindleyw/juno/internal/banengine"
	"github.com/lindleyw/juno/internal/channel"
	"github.com/lindleyw/juno/internal/cmode"
	"github.com/lindleyw/juno/internal/modeapply"
	"github.com/lindleyw/juno/internal/ts6id"
)

// ErrUIDCollision signals a duplicate UID introduction; per spec.md
// §7 the caller must disconnect the offending link.
var ErrUIDCollision = errors.New("UID collision")

// UserIntro is a decoded EUID.
type UserIntro struct {
	Nick      string
	Hopcount  int
	NickTS    int64
	UModes    string
	Ident     string
	Cloak     string
	IP        string
	UID       string
	Host      string
	Account   string
	Real      string
}

// Context is everything the translator needs from the rest of the
// system (the process-wide pool) to turn decoded frames into state
// changes without owning that state itself — it is the seam spec.md
// §2's "all mutation goes through the Mode Applicator or Ban Engine;
// no component writes state directly from wire" describes.
type Context interface {
	ModeTable(peerSID string) *cmode.Table
	Channel(name string) *channel.Channel
	LocatedLocally(peerSID, uid string) bool
	ResolveActor(id string) (actor.Actor, bool)
	RegisterUser(intro UserIntro, peerSID string) error
	Now() int64
	NoticeOperators(format string, args ...interface{})
	Forward(fromPeerSID string, f Frame)
	Applicator() *modeapply.Applicator
	Bans() *banengine.Engine
}

// Translator decodes inbound TS6 frames and encodes outbound ones,
// tracking per-(peer,kind) protocol-violation notices so a flaky
// link can't flood the operator notice sink (spec.md §7).
type Translator struct {
	Ctx Context
	Log *logrus.Logger

	warned map[string]map[string]bool
}

// New builds a Translator bound to ctx.
func New(ctx Context, log *logrus.Logger) *Translator {
	return &Translator{Ctx: ctx, Log: log, warned: make(map[string]map[string]bool)}
}

func (tr *Translator) violation(peerSID, kind, detail string) error {
	if tr.warned[peerSID] == nil {
		tr.warned[peerSID] = make(map[string]bool)
	}
	if !tr.warned[peerSID][kind] {
		tr.warned[peerSID][kind] = true
		tr.Ctx.NoticeOperators("protocol violation from %s (%s): %s", peerSID, kind, detail)
	}
	if tr.Log != nil {
		tr.Log.WithFields(logrus.Fields{"peer": peerSID, "kind": kind}).Debug(detail)
	}
	return errors.Errorf("tsproto: protocol violation (%s): %s", kind, detail)
}

// Decode dispatches one inbound frame from peerSID. A non-nil error
// means the frame was dropped (already recorded as an operator
// notice where required); ErrUIDCollision means the caller must
// disconnect the link. Successfully processed frames (other than
// CAPAB, which is link-local) are forwarded verbatim to every other
// linked peer — the translator never re-forwards to the source.
func (tr *Translator) Decode(peerSID string, f Frame) error {
	cmd := f.Command
	inner := f
	if cmd == "ENCAP" {
		if len(f.Params) < 2 {
			return tr.violation(peerSID, "ENCAP", "missing subcommand")
		}
		inner = Frame{Source: f.Source, Command: f.Params[1], Params: f.Params[2:]}
		cmd = inner.Command
		// The ENCAP envelope's own "*" already serves as the target
		// these commands otherwise carry as their first direct-form
		// parameter; re-synthesize it so the per-command decoders
		// below see one uniform shape regardless of envelope. RESV's
		// ENCAP form additionally carries a documented-ignored 6th
		// field (spec.md §6) that the direct form lacks.
		switch cmd {
		case "KLINE", "UNKLINE", "UNRESV":
			inner.Params = append([]string{"*"}, inner.Params...)
		case "RESV":
			if len(inner.Params) >= 4 {
				inner.Params = []string{"*", inner.Params[0], inner.Params[1], inner.Params[3]}
			}
		}
	}

	var err error
	switch cmd {
	case "CAPAB":
		return nil // link-local, never forwarded
	case "EUID":
		err = tr.handleEUID(peerSID, inner)
	case "SJOIN":
		err = tr.handleSJOIN(peerSID, inner)
	case "KLINE":
		err = tr.handleKline(peerSID, inner)
	case "UNKLINE":
		err = tr.handleUnkline(peerSID, inner)
	case "DLINE":
		err = tr.handleDline(peerSID, inner)
	case "UNDLINE":
		err = tr.handleUndline(peerSID, inner)
	case "RESV":
		err = tr.handleResv(peerSID, inner)
	case "UNRESV":
		err = tr.handleUnresv(peerSID, inner)
	case "NICKDELAY":
		err = tr.handleNickDelay(peerSID, inner)
	case "BAN":
		err = tr.handleBan(peerSID, inner)
	default:
		return tr.violation(peerSID, cmd, "unsupported command")
	}
	if err != nil {
		return err
	}
	tr.Ctx.Forward(peerSID, f)
	return nil
}

func (tr *Translator) actorOrServer(peerSID, id string) actor.Actor {
	if a, ok := tr.Ctx.ResolveActor(id); ok {
		return a
	}
	return actor.Server{SID: peerSID}
}

// DecodeEUID parses ":sid EUID nick hopcount nickTS umodes ident cloak ip uid host account :real".
func DecodeEUID(f Frame) (UserIntro, error) {
	if len(f.Params) != 11 {
		return UserIntro{}, errors.Errorf("EUID: want 11 params, got %d", len(f.Params))
	}
	hopcount, err := strconv.Atoi(f.Params[1])
	if err != nil {
		return UserIntro{}, errors.Wrap(err, "EUID: bad hopcount")
	}
	nickTS, err := strconv.ParseInt(f.Params[2], 10, 64)
	if err != nil {
		return UserIntro{}, errors.Wrap(err, "EUID: bad nickTS")
	}
	return UserIntro{
		Nick: f.Params[0], Hopcount: hopcount, NickTS: nickTS, UModes: f.Params[3],
		Ident: f.Params[4], Cloak: f.Params[5], IP: f.Params[6], UID: f.Params[7],
		Host: f.Params[8], Account: f.Params[9], Real: f.Params[10],
	}, nil
}

func (tr *Translator) handleEUID(peerSID string, f Frame) error {
	intro, err := DecodeEUID(f)
	if err != nil {
		return tr.violation(peerSID, "EUID", err.Error())
	}
	if len(intro.UID) != 9 || !ts6id.ValidSID(intro.UID[:3]) || !ts6id.ValidUID(intro.UID[3:]) {
		return tr.violation(peerSID, "EUID", "malformed uid "+intro.UID)
	}
	if err := tr.Ctx.RegisterUser(intro, peerSID); err != nil {
		if errors.Is(err, ErrUIDCollision) {
			return err
		}
		return tr.violation(peerSID, "EUID", err.Error())
	}
	return nil
}

// DecodeSJOIN parses ":sid SJOIN ts chan modes params... :nicklist"
// against tbl, the decoding peer's mode perspective.
func DecodeSJOIN(tbl *cmode.Table, f Frame) (ts int64, chanName string, simple []cmode.Change, tokens []channel.Token, err error) {
	if len(f.Params) < 4 {
		return 0, "", nil, nil, errors.New("SJOIN: too few params")
	}
	ts, err = strconv.ParseInt(f.Params[0], 10, 64)
	if err != nil {
		return 0, "", nil, nil, errors.Wrap(err, "SJOIN: bad ts")
	}
	chanName = f.Params[1]
	modeStr := f.Params[2]
	nicklist := f.Params[len(f.Params)-1]
	modeParams := f.Params[3 : len(f.Params)-1]

	simple, _ = tbl.Parse(modeStr, modeParams)

	for _, tok := range splitFields(nicklist) {
		i := 0
		for i < len(tok) {
			if _, ok := tbl.ByPrefix(tok[i]); !ok {
				break
			}
			i++
		}
		tokens = append(tokens, channel.Token{Prefixes: []byte(tok[:i]), UID: tok[i:]})
	}
	return ts, chanName, simple, tokens, nil
}

func splitFields(s string) []string {
	var out []string
	start := -1
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ' ' {
			if start >= 0 {
				out = append(out, s[start:i])
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	return out
}

func (tr *Translator) handleSJOIN(peerSID string, f Frame) error {
	tbl := tr.Ctx.ModeTable(peerSID)
	ts, name, simple, tokens, err := DecodeSJOIN(tbl, f)
	if err != nil {
		return tr.violation(peerSID, "SJOIN", err.Error())
	}
	ch := tr.Ctx.Channel(name)
	res := channel.Resolve(ch, tbl, ts, simple, tokens, func(uid string) bool {
		return tr.Ctx.LocatedLocally(peerSID, uid)
	})
	if len(res.Diff) > 0 {
		src := tr.actorOrServer(peerSID, f.Source)
		tr.Ctx.Applicator().Apply(ch, src, res.Diff, true, true)
	}
	return nil
}

func matchKeyFor(t banengine.Type, user, host string) string {
	if t == banengine.KLine {
		return user + "@" + host
	}
	return user
}

func (tr *Translator) createOrUpdateBan(peerSID string, b banengine.Ban) {
	if _, warning := tr.Ctx.Bans().CreateOrUpdate(b); warning != "" {
		tr.Ctx.NoticeOperators(warning)
	}
}

func (tr *Translator) handleKline(peerSID string, f Frame) error {
	if len(f.Params) < 4 {
		return tr.violation(peerSID, "KLINE", "too few params")
	}
	dur, err := strconv.ParseInt(f.Params[1], 10, 64)
	if err != nil {
		return tr.violation(peerSID, "KLINE", "bad duration")
	}
	user, host, reason := f.Params[2], f.Params[3], f.Param(4)
	now := tr.Ctx.Now()
	b := banengine.Ban{
		ID: banengine.ComputeID(peerSID, matchKeyFor(banengine.KLine, user, host)),
		Type: banengine.KLine, MatchUser: user, MatchHost: host, Reason: reason,
		Added: now, Modified: now, Duration: dur, Lifetime: dur,
		ASID: peerSID, RecentSource: tr.actorOrServer(peerSID, f.Source),
	}
	tr.createOrUpdateBan(peerSID, b)
	return nil
}

func (tr *Translator) handleUnkline(peerSID string, f Frame) error {
	if len(f.Params) < 3 {
		return tr.violation(peerSID, "UNKLINE", "too few params")
	}
	user, host := f.Params[1], f.Params[2]
	if b, err := tr.Ctx.Bans().BanByUserInput(banengine.KLine, user+"@"+host); err == nil {
		tr.Ctx.Bans().Delete(b.ID)
	}
	return nil
}

func (tr *Translator) handleDline(peerSID string, f Frame) error {
	if len(f.Params) < 2 {
		return tr.violation(peerSID, "DLINE", "too few params")
	}
	dur, err := strconv.ParseInt(f.Params[0], 10, 64)
	if err != nil {
		return tr.violation(peerSID, "DLINE", "bad duration")
	}
	ip, reason := f.Params[1], f.Param(2)
	now := tr.Ctx.Now()
	b := banengine.Ban{
		ID: banengine.ComputeID(peerSID, ip), Type: banengine.DLine, Match: ip, Reason: reason,
		Added: now, Modified: now, Duration: dur, Lifetime: dur,
		ASID: peerSID, RecentSource: tr.actorOrServer(peerSID, f.Source),
	}
	tr.createOrUpdateBan(peerSID, b)
	return nil
}

func (tr *Translator) handleUndline(peerSID string, f Frame) error {
	if len(f.Params) < 1 {
		return tr.violation(peerSID, "UNDLINE", "too few params")
	}
	if b, err := tr.Ctx.Bans().BanByUserInput(banengine.DLine, f.Params[0]); err == nil {
		tr.Ctx.Bans().Delete(b.ID)
	}
	return nil
}

func (tr *Translator) handleResv(peerSID string, f Frame) error {
	if len(f.Params) < 3 {
		return tr.violation(peerSID, "RESV", "too few params")
	}
	dur, err := strconv.ParseInt(f.Params[1], 10, 64)
	if err != nil {
		return tr.violation(peerSID, "RESV", "bad duration")
	}
	mask, reason := f.Params[2], f.Param(3)
	now := tr.Ctx.Now()
	b := banengine.Ban{
		ID: banengine.ComputeID(peerSID, mask), Type: banengine.Resv, Match: mask, Reason: reason,
		Added: now, Modified: now, Duration: dur, Lifetime: dur,
		ASID: peerSID, RecentSource: tr.actorOrServer(peerSID, f.Source),
	}
	tr.createOrUpdateBan(peerSID, b)
	return nil
}

func (tr *Translator) handleUnresv(peerSID string, f Frame) error {
	if len(f.Params) < 2 {
		return tr.violation(peerSID, "UNRESV", "too few params")
	}
	if b, err := tr.Ctx.Bans().BanByUserInput(banengine.Resv, f.Params[1]); err == nil {
		tr.Ctx.Bans().Delete(b.ID)
	}
	return nil
}

func (tr *Translator) handleNickDelay(peerSID string, f Frame) error {
	if len(f.Params) < 2 {
		return tr.violation(peerSID, "NICKDELAY", "too few params")
	}
	dur, err := strconv.ParseInt(f.Params[0], 10, 64)
	if err != nil {
		return tr.violation(peerSID, "NICKDELAY", "bad duration")
	}
	nick := f.Params[1]
	id := banengine.ComputeID(peerSID, nick)
	if dur == 0 {
		tr.Ctx.Bans().Delete(id)
		return nil
	}
	now := tr.Ctx.Now()
	b := banengine.Ban{
		ID: id, Type: banengine.NickDelay, Match: nick,
		Added: now, Modified: now, Duration: dur, Lifetime: dur,
		ASID: peerSID, RecentSource: tr.actorOrServer(peerSID, f.Source),
	}
	tr.createOrUpdateBan(peerSID, b)
	return nil
}

// DecodeBan parses ":src BAN K/R/X user host creationTS duration lifetime oper :reason".
func DecodeBan(f Frame) (banengine.Ban, error) {
	if len(f.Params) < 8 {
		return banengine.Ban{}, errors.New("BAN: too few params")
	}
	var t banengine.Type
	switch f.Params[0] {
	case "K":
		t = banengine.KLine
	case "R":
		t = banengine.Resv
	case "X":
		t = banengine.NickDelay
	default:
		return banengine.Ban{}, errors.Errorf("BAN: unknown type %q", f.Params[0])
	}
	user, host := f.Params[1], f.Params[2]
	creationTS, err := strconv.ParseInt(f.Params[3], 10, 64)
	if err != nil {
		return banengine.Ban{}, errors.Wrap(err, "BAN: bad creationTS")
	}
	duration, err := strconv.ParseInt(f.Params[4], 10, 64)
	if err != nil {
		return banengine.Ban{}, errors.Wrap(err, "BAN: bad duration")
	}
	lifetime, err := strconv.ParseInt(f.Params[5], 10, 64)
	if err != nil {
		return banengine.Ban{}, errors.Wrap(err, "BAN: bad lifetime")
	}
	oper, reason := f.Params[6], f.Param(7)

	b := banengine.Ban{
		Type: t, Reason: reason, Added: creationTS, Modified: creationTS,
		Duration: duration, Lifetime: lifetime, AUser: oper,
	}
	if t == banengine.KLine {
		b.MatchUser, b.MatchHost = user, host
	} else {
		b.Match = user
	}
	return b, nil
}

func (tr *Translator) handleBan(peerSID string, f Frame) error {
	b, err := DecodeBan(f)
	if err != nil {
		return tr.violation(peerSID, "BAN", err.Error())
	}
	b.ASID = peerSID
	b.RecentSource = tr.actorOrServer(peerSID, f.Source)
	key := b.Match
	if b.Type == banengine.KLine {
		key = matchKeyFor(banengine.KLine, b.MatchUser, b.MatchHost)
	}
	b.ID = banengine.ComputeID(peerSID, key)
	if b.Duration == 0 {
		tr.Ctx.Bans().Delete(b.ID)
		return nil
	}
	tr.createOrUpdateBan(peerSID, b)
	return nil
}
