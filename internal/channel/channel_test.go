package channel

import "testing"

func TestMembershipInvariant(t *testing.T) {
	ch := New("#x", 1000)
	ch.Add("001AAAAAA")
	ch.Add("001AAAAAB")
	if !ch.Has("001AAAAAA") || !ch.Has("001AAAAAB") {
		t.Fatal("expected both members present")
	}
	if ch.MemberCount() != 2 {
		t.Fatalf("got %d members, want 2", ch.MemberCount())
	}
	// Idempotent add.
	ch.Add("001AAAAAA")
	if ch.MemberCount() != 2 {
		t.Fatalf("duplicate add changed count: %d", ch.MemberCount())
	}
}

func TestRemovePurgesStatusAtomically(t *testing.T) {
	ch := New("#x", 1000)
	ch.Add("001AAAAAA")
	ch.AddStatus("op", "001AAAAAA")
	if !ch.HasStatus("op", "001AAAAAA") {
		t.Fatal("expected op status before removal")
	}
	ch.Remove("001AAAAAA")
	if ch.Has("001AAAAAA") {
		t.Fatal("member should be gone")
	}
	if ch.HasStatus("op", "001AAAAAA") {
		t.Fatal("status should be purged with member")
	}
}

func TestListUniqueByParam(t *testing.T) {
	ch := New("#x", 1000)
	ok := ch.AddToList("ban", ListEntry{Param: "*!*@bad.example", SetBy: "op", Time: 1})
	if !ok {
		t.Fatal("expected first add to succeed")
	}
	ok = ch.AddToList("ban", ListEntry{Param: "*!*@bad.example", SetBy: "op2", Time: 2})
	if ok {
		t.Fatal("expected duplicate param to be rejected")
	}
	if len(ch.ListEntries("ban")) != 1 {
		t.Fatalf("got %d entries, want 1", len(ch.ListEntries("ban")))
	}
}

func TestListMatchesGlob(t *testing.T) {
	ch := New("#x", 1000)
	ch.AddToList("ban", ListEntry{Param: "*!*@*.evil.example"})
	if !ch.ListMatches("ban", "nick!user@host.evil.example") {
		t.Fatal("expected ban mask to match")
	}
	if ch.ListMatches("ban", "nick!user@host.good.example") {
		t.Fatal("expected ban mask not to match")
	}
}

func TestTakeLowerTimeNeverIncreases(t *testing.T) {
	ch := New("#x", 1000)
	ch.TakeLowerTime(2000, false)
	if ch.Time != 1000 {
		t.Fatalf("got %d, want 1000 (never increases)", ch.Time)
	}
	ch.TakeLowerTime(500, false)
	if ch.Time != 500 {
		t.Fatalf("got %d, want 500", ch.Time)
	}
}

func TestDoTopicClearsOnEmpty(t *testing.T) {
	ch := New("#x", 1000)
	ch.DoTopic("hello", "nick!u@h", 10, "001")
	if ch.Topic == nil || ch.Topic.Text != "hello" {
		t.Fatal("expected topic set")
	}
	ch.DoTopic("", "nick!u@h", 11, "001")
	if ch.Topic != nil {
		t.Fatal("expected topic cleared on empty text")
	}
}

func TestDestroyMaybe(t *testing.T) {
	ch := New("#x", 1000)
	if !ch.DestroyMaybe(nil) {
		t.Fatal("empty channel with no veto should destroy")
	}
	ch.Add("001AAAAAA")
	if ch.DestroyMaybe(nil) {
		t.Fatal("non-empty channel should not destroy")
	}
	ch.Remove("001AAAAAA")
	if ch.DestroyMaybe(func() bool { return true }) {
		t.Fatal("veto should prevent destruction")
	}
}

func TestMatchMaskWildcards(t *testing.T) {
	cases := []struct {
		pattern, target string
		want            bool
	}{
		{"*!*@*", "nick!user@host", true},
		{"nick!*@*.example.com", "NICK!user@sub.example.com", true},
		{"a?c", "abc", true},
		{"a?c", "abbc", false},
		{"*.example.com", "www.example.com", true},
		{"*.example.com", "example.com", false},
		{"exact", "exact", true},
		{"exact", "Exact", true},
	}
	for _, c := range cases {
		if got := MatchMask(c.pattern, c.target); got != c.want {
			t.Errorf("MatchMask(%q, %q) = %v, want %v", c.pattern, c.target, got, c.want)
		}
	}
}

func TestNamesLinesWraps(t *testing.T) {
	ch := New("#x", 1000)
	ch.Add("u1")
	ch.Add("u2")
	ch.Add("u3")
	prefixOf := func(uid string) []byte { return nil }
	nickOf := func(uid string) string { return uid }
	lines := ch.NamesLines(6, false, prefixOf, nickOf)
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want 3: %v", len(lines), lines)
	}
}

func TestNamesLinesMultiPrefix(t *testing.T) {
	ch := New("#x", 1000)
	ch.Add("u1")
	prefixOf := func(uid string) []byte { return []byte{'@', '+'} }
	nickOf := func(uid string) string { return "nick" }
	lines := ch.NamesLines(500, true, prefixOf, nickOf)
	if len(lines) != 1 || lines[0] != "@+nick" {
		t.Fatalf("got %v, want [@+nick]", lines)
	}
	lines = ch.NamesLines(500, false, prefixOf, nickOf)
	if len(lines) != 1 || lines[0] != "@nick" {
		t.Fatalf("got %v, want [@nick]", lines)
	}
}
