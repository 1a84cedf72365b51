package tsproto

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lindleyw/juno/internal/actor"
	"github.com/lindleyw/juno/internal/banengine"
	"github.com/lindleyw/juno/internal/channel"
	"github.com/lindleyw/juno/internal/cmode"
	"github.com/lindleyw/juno/internal/modeapply"
)

type fakeCtx struct {
	tbl        *cmode.Table
	channels   map[string]*channel.Channel
	actors     map[string]actor.Actor
	located    map[string]bool
	users      map[string]UserIntro
	notices    []string
	forwarded  []Frame
	applicator *modeapply.Applicator
	bans       *banengine.Engine
	now        int64
}

func newFakeCtx() *fakeCtx {
	tbl := cmode.DefaultTable()
	return &fakeCtx{
		tbl:        tbl,
		channels:   make(map[string]*channel.Channel),
		actors:     make(map[string]actor.Actor),
		located:    make(map[string]bool),
		users:      make(map[string]UserIntro),
		applicator: modeapply.New(tbl, 50, 1024),
		bans:       banengine.New(),
	}
}

func (f *fakeCtx) ModeTable(peerSID string) *cmode.Table { return f.tbl }
func (f *fakeCtx) Channel(name string) *channel.Channel {
	ch, ok := f.channels[name]
	if !ok {
		ch = channel.New(name, f.now)
		f.channels[name] = ch
	}
	return ch
}
func (f *fakeCtx) LocatedLocally(peerSID, uid string) bool { return f.located[uid] }
func (f *fakeCtx) ResolveActor(id string) (actor.Actor, bool) {
	a, ok := f.actors[id]
	return a, ok
}
func (f *fakeCtx) RegisterUser(intro UserIntro, peerSID string) error {
	if _, exists := f.users[intro.UID]; exists {
		return ErrUIDCollision
	}
	f.users[intro.UID] = intro
	f.actors[intro.UID] = actor.User{UID: intro.UID}
	return nil
}
func (f *fakeCtx) Now() int64 { return f.now }
func (f *fakeCtx) NoticeOperators(format string, args ...interface{}) {
	f.notices = append(f.notices, format)
}
func (f *fakeCtx) Forward(fromPeerSID string, fr Frame) { f.forwarded = append(f.forwarded, fr) }
func (f *fakeCtx) Applicator() *modeapply.Applicator     { return f.applicator }
func (f *fakeCtx) Bans() *banengine.Engine               { return f.bans }

func TestParseFrameBasic(t *testing.T) {
	f := ParseFrame(":001 SJOIN 900 #x +m :@001AAAAAB")
	require.Equal(t, "001", f.Source)
	require.Equal(t, "SJOIN", f.Command)
	require.Equal(t, []string{"900", "#x", "+m", "@001AAAAAB"}, f.Params)
}

func TestParseFrameNoSource(t *testing.T) {
	f := ParseFrame("CAPAB :KLN UNKLN BAN EUID")
	require.Equal(t, "", f.Source)
	require.Equal(t, "CAPAB", f.Command)
	require.Equal(t, []string{"KLN UNKLN BAN EUID"}, f.Params)
}

func TestFrameStringRoundTrip(t *testing.T) {
	f := Frame{Source: "001", Command: "PRIVMSG", Params: []string{"#x", "hello world"}}
	require.Equal(t, ":001 PRIVMSG #x :hello world", f.String())

	reparsed := ParseFrame(f.String())
	require.Equal(t, f.Source, reparsed.Source)
	require.Equal(t, f.Command, reparsed.Command)
	require.Equal(t, f.Params, reparsed.Params)
}

func TestParseCapabs(t *testing.T) {
	caps := ParseCapabs([]string{"KLN UNKLN BAN"})
	require.True(t, caps["KLN"])
	require.True(t, caps["BAN"])
	require.False(t, caps["EUID"])
}

func TestDuplicateUIDDisconnects(t *testing.T) {
	ctx := newFakeCtx()
	tr := New(ctx, nil)

	euid := ":001 EUID nick1 1 1000 + ident cloak 1.2.3.4 001AAAAAB host * :Real Name"
	require.NoError(t, tr.Decode("001", ParseFrame(euid)))

	err := tr.Decode("001", ParseFrame(euid))
	require.ErrorIs(t, err, ErrUIDCollision)
}

func TestSJOINAppliesDiffAndForwards(t *testing.T) {
	ctx := newFakeCtx()
	ctx.now = 900
	tr := New(ctx, nil)

	ch := ctx.Channel("#x")
	ch.Time = 1000
	ch.Add("000AAAAAU")
	ch.AddStatus("op", "000AAAAAU")
	ctx.located["001AAAAAB"] = true

	err := tr.Decode("001", ParseFrame(":001 SJOIN 900 #x +m :@001AAAAAB"))
	require.NoError(t, err)

	require.Equal(t, int64(900), ch.Time)
	require.True(t, ch.HasSimple("moderated"))
	require.False(t, ch.HasStatus("op", "000AAAAAU"))
	require.True(t, ch.HasStatus("op", "001AAAAAB"))
	require.Len(t, ctx.forwarded, 1)
}

func TestEncodeKLineFallbackChain(t *testing.T) {
	b := &banengine.Ban{
		MatchUser: "user", MatchHost: "host", Reason: "reason",
		Modified: 1000, Duration: 300, Lifetime: 600,
		RecentSource: actor.User{UID: "001AAAAAA"},
	}

	fBan, err := EncodeKLine(map[string]bool{"BAN": true}, b, nil, 1000)
	require.NoError(t, err)
	require.Equal(t, ":001AAAAAA BAN K user host 1000 300 600 * :reason", fBan.String())

	fKln, err := EncodeKLine(map[string]bool{"KLN": true}, b, nil, 1000)
	require.NoError(t, err)
	require.Equal(t, ":001AAAAAA KLINE * 300 user host :reason", fKln.String())

	fEncap, err := EncodeKLine(map[string]bool{}, b, nil, 1000)
	require.NoError(t, err)
	require.Equal(t, ":001AAAAAA ENCAP * KLINE 300 user host :reason", fEncap.String())
}

func TestEncodeKLineDropsWhenExpiredNonBAN(t *testing.T) {
	b := &banengine.Ban{MatchUser: "user", MatchHost: "host", Modified: 1000, Duration: 300, Lifetime: 600, RecentSource: actor.User{UID: "001AAAAAA"}}
	_, err := EncodeKLine(map[string]bool{"KLN": true}, b, nil, 1400)
	require.ErrorIs(t, err, ErrDropExpired)
}

func TestEncodeKLineIntroducesAgentWhenNoUserSource(t *testing.T) {
	b := &banengine.Ban{MatchUser: "user", MatchHost: "host", Modified: 1000, Duration: 300, Lifetime: 600, RecentSource: actor.Server{SID: "001"}}
	agent := banengine.NewAgent("001ZZZZZZ", "002")
	f, err := EncodeKLine(map[string]bool{"KLN": true}, b, agent, 1000)
	require.NoError(t, err)
	require.Equal(t, "001ZZZZZZ", f.Source)
	require.True(t, agent.Introduced())
}

func TestEncodeKLineNoSourceErrors(t *testing.T) {
	b := &banengine.Ban{MatchUser: "user", MatchHost: "host", Modified: 1000, Duration: 300, Lifetime: 600}
	_, err := EncodeKLine(map[string]bool{"KLN": true}, b, nil, 1000)
	require.ErrorIs(t, err, ErrNoSource)
}

func TestHandleBanDurationZeroDeletes(t *testing.T) {
	ctx := newFakeCtx()
	tr := New(ctx, nil)
	ctx.bans.CreateOrUpdate(banengine.Ban{ID: banengine.ComputeID("001", "user@host"), Type: banengine.KLine, MatchUser: "user", MatchHost: "host"})

	err := tr.Decode("001", ParseFrame(":001AAAAAA BAN K user host 1000 0 0 * :removed"))
	require.NoError(t, err)
	_, ok := ctx.bans.Get(banengine.ComputeID("001", "user@host"))
	require.False(t, ok)
}

func TestHandleEncapKlineRoundTrip(t *testing.T) {
	ctx := newFakeCtx()
	ctx.now = 1000
	tr := New(ctx, nil)

	err := tr.Decode("001", ParseFrame(":001AAAAAA ENCAP * KLINE 300 user host :spamming"))
	require.NoError(t, err)

	b, ok := ctx.bans.Get(banengine.ComputeID("001", "user@host"))
	require.True(t, ok)
	require.Equal(t, "spamming", b.Reason)
	require.Len(t, ctx.forwarded, 1)
	require.Equal(t, "ENCAP", ctx.forwarded[0].Command)
}

func TestDecodeProtocolViolationDedupedPerPeerAndKind(t *testing.T) {
	ctx := newFakeCtx()
	tr := New(ctx, nil)

	tr.Decode("001", ParseFrame(":001 EUID onlyonefield"))
	tr.Decode("001", ParseFrame(":001 EUID onlyonefield"))
	require.Len(t, ctx.notices, 1)

	tr.Decode("001", ParseFrame(":001 SJOIN bad"))
	require.Len(t, ctx.notices, 2)
}
