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

// Package modeapply is the mode applicator: the single place a decoded
// (±name, param) change sequence is turned into committed channel
// state, subject to permission policy and per-mode override hooks.
package modeapply

import (
	"strings"

	"github.com/lindleyw/juno/internal/actor"
	"github.com/lindleyw/juno/internal/channel"
	"github.com/lindleyw/juno/internal/cmode"
)

// Record is passed to a mode's hook so it can inspect and, within
// limits, redirect how a single change commits.
type Record struct {
	Channel        *channel.Channel
	Table          *cmode.Table
	Source         actor.Actor
	Name           string
	Letter         byte
	Kind           cmode.Kind
	Add            bool
	Param          string
	Force          bool
	Protocol       bool
	HasBasicStatus bool
	SourceLevel    int

	// DoNotSet discards an otherwise-won change without committing it.
	DoNotSet bool
	// SendNoPrivs requests a no-privs reply for a blocked change.
	SendNoPrivs bool
	// HideNoPrivs suppresses any no-privs reply entirely.
	HideNoPrivs bool
	// NoPrivsReply, when set alongside SendNoPrivs, replaces the
	// standard ERR_CHANOPRIVSNEEDED numeric with custom text.
	NoPrivsReply string
}

// Hook decides whether a change wins (may commit) or is blocked. It
// may mutate the Record it's given to override the default outcome.
type Hook func(rec *Record) bool

// LogEntry is one change actually committed to channel state.
type LogEntry struct {
	Name  string
	Add   bool
	Param string
}

// NoPrivsEvent is a deferred no-privileges notice for the caller
// (which owns the actual client connection) to turn into a numeric.
type NoPrivsEvent struct {
	Name        string
	CustomReply string
}

// Applicator owns a perspective's mode table, per-mode override
// hooks, and the wire length limits used to truncate parameters.
type Applicator struct {
	Table          *cmode.Table
	Hooks          map[string]Hook
	MaxParamLength int
	MaxBanLength   int
}

// New builds an Applicator. maxParamLength and maxBanLength are the
// wire truncation limits of spec.md §4.4 step 3; callers typically
// source these from configuration.
func New(tbl *cmode.Table, maxParamLength, maxBanLength int) *Applicator {
	return &Applicator{
		Table:          tbl,
		Hooks:          make(map[string]Hook),
		MaxParamLength: maxParamLength,
		MaxBanLength:   maxBanLength,
	}
}

// RegisterHook installs a custom mode-block for a mode name, replacing
// the built-in permission policy for that mode.
func (a *Applicator) RegisterHook(name string, h Hook) {
	a.Hooks[name] = h
}

// Apply commits changes against ch in order, returning the change log
// of what was actually committed and any no-privs notices produced
// for blocked changes. It never writes to the wire itself.
func (a *Applicator) Apply(ch *channel.Channel, source actor.Actor, changes []cmode.Change, force, protocol bool) ([]LogEntry, []NoPrivsEvent) {
	var log []LogEntry
	var noPrivs []NoPrivsEvent

	local := !force && !source.IsServer()

	for _, change := range changes {
		def, ok := a.Table.ByLetter(change.Letter)
		if !ok {
			def, ok = a.Table.ByName(change.Name)
		}
		if !ok {
			continue
		}
		kind := def.Kind

		required := cmode.TakesParam(kind, change.Add)
		if kind == cmode.Key && !change.Add {
			// Unsetting a key clears it whether or not a param was
			// given on the wire; only a set (+k) requires one.
			required = false
		}
		param := change.Param
		if required {
			if !change.HasParam || param == "" || strings.HasPrefix(param, ":") {
				continue
			}
		}

		limit := a.MaxParamLength
		if kind == cmode.List {
			limit = a.MaxBanLength
		}
		param = truncate(param, limit)

		sourceLevel := 0
		if !source.IsServer() {
			sourceLevel = highestLevel(a.Table, ch, source.ID())
		}
		hasBasicStatus := force || source.IsServer() || sourceLevel >= cmode.SimpleModesLevel

		rec := &Record{
			Channel:        ch,
			Table:          a.Table,
			Source:         source,
			Name:           def.Name,
			Letter:         def.Letter,
			Kind:           kind,
			Add:            change.Add,
			Param:          param,
			Force:          force,
			Protocol:       protocol,
			HasBasicStatus: hasBasicStatus,
			SourceLevel:    sourceLevel,
		}

		hook := a.Hooks[def.Name]
		if hook == nil {
			hook = defaultHook
		}
		won := hook(rec)

		if !won {
			if local && !rec.HideNoPrivs {
				if rec.SendNoPrivs {
					noPrivs = append(noPrivs, NoPrivsEvent{Name: def.Name, CustomReply: rec.NoPrivsReply})
				} else {
					noPrivs = append(noPrivs, NoPrivsEvent{Name: def.Name})
				}
			}
			continue
		}
		if rec.DoNotSet {
			continue
		}

		commit(ch, source, kind, def.Name, change.Add, rec.Param)
		log = append(log, LogEntry{Name: def.Name, Add: change.Add, Param: rec.Param})
	}

	return log, noPrivs
}

// defaultHook is the built-in permission policy of spec.md §4.4:
// simple modes require basic status; status modes additionally
// require the source outrank the demotion target. Forced and
// server-sourced changes always win.
func defaultHook(rec *Record) bool {
	if rec.Force || rec.Source.IsServer() {
		return true
	}
	if !rec.HasBasicStatus {
		rec.SendNoPrivs = true
		return false
	}
	if rec.Kind == cmode.Status && !rec.Add {
		targetLevel := highestLevel(rec.Table, rec.Channel, rec.Param)
		if rec.SourceLevel <= targetLevel {
			rec.SendNoPrivs = true
			return false
		}
	}
	return true
}

// commit performs the type-specific state transition of spec.md §4.4
// step 6. It never fails: malformed/missing parameters were already
// filtered out before a Record was built.
func commit(ch *channel.Channel, source actor.Actor, kind cmode.Kind, name string, add bool, param string) {
	now := nowPlaceholder(ch)
	switch kind {
	case cmode.Normal:
		if add {
			ch.SetSimple(name, now)
		} else {
			ch.UnsetSimple(name)
		}
	case cmode.Parameter, cmode.ParameterSet:
		if add {
			ch.SetParam(name, param, now, kind)
		} else {
			ch.UnsetParam(name)
		}
	case cmode.Key:
		if add {
			ch.SetKey(name, param)
		} else {
			ch.UnsetKey(name)
		}
	case cmode.List:
		if add {
			ch.AddToList(name, channel.ListEntry{Param: param, SetBy: source.ID(), Time: now})
		} else {
			ch.RemoveFromList(name, param)
		}
	case cmode.Status:
		if add {
			ch.AddStatus(name, param)
		} else {
			ch.RemoveStatus(name, param)
		}
	}
}

// nowPlaceholder threads the channel's own timestamp through as the
// set-time for newly-set simple/param modes, since spec.md does not
// require bumping those independently of the channel TS.
func nowPlaceholder(ch *channel.Channel) int64 {
	return ch.Time
}

// highestLevel returns the Level of uid's highest Status in ch, or 0
// if uid holds none.
func highestLevel(tbl *cmode.Table, ch *channel.Channel, uid string) int {
	names := ch.StatusOf(tbl, uid)
	if len(names) == 0 {
		return 0
	}
	def, ok := tbl.ByName(names[0])
	if !ok {
		return 0
	}
	return def.Level
}

// truncate shortens s to at most n bytes; n <= 0 means unlimited.
func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	return s[:n]
}
