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

import "strings"

// KnownCapabs is the advisory capability vocabulary of spec.md §6.
var KnownCapabs = []string{"KLN", "UNKLN", "BAN", "EUID", "CLUSTER"}

// ParseCapabs splits a CAPAB line's space-separated token list into a
// lookup set, the way horgh/catbox's capabCommand folds a peer's
// advertised tokens into Capabs before anything else about the link
// is trusted.
func ParseCapabs(params []string) map[string]bool {
	caps := make(map[string]bool)
	for _, p := range params {
		for _, tok := range strings.Fields(p) {
			caps[strings.ToUpper(tok)] = true
		}
	}
	return caps
}

// FormatCapabs renders a capability set back to a single CAPAB
// parameter, sorted for deterministic output.
func FormatCapabs(caps map[string]bool) string {
	var out []string
	for _, known := range KnownCapabs {
		if caps[known] {
			out = append(out, known)
		}
	}
	for c := range caps {
		found := false
		for _, known := range KnownCapabs {
			if c == known {
				found = true
				break
			}
		}
		if !found {
			out = append(out, c)
		}
	}
	return strings.Join(out, " ")
}
