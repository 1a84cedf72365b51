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

// Package actor is the tagged Actor = User(uid) | Server(sid) variant
// from spec.md §9, replacing the original's isa('user')/isa('server')
// inheritance check with a small sealed interface.
package actor

// Actor is the source of a command: either a user or a server. It is
// a sealed interface — IsServer is the only way to branch on kind,
// matching the idiomatic-Go rendition of a two-case sum type.
type Actor interface {
	// IsServer reports whether this actor is a server (true) or a
	// user (false).
	IsServer() bool
	// ID returns the actor's TS6 wire identifier: a UID for a user,
	// a SID for a server.
	ID() string
}

// User identifies a local or remote client by its TS6 UID.
type User struct {
	UID string
}

func (User) IsServer() bool { return false }
func (u User) ID() string   { return u.UID }

// Server identifies a server in the mesh by its TS6 SID.
type Server struct {
	SID string
}

func (Server) IsServer() bool { return true }
func (s Server) ID() string   { return s.SID }

var (
	_ Actor = User{}
	_ Actor = Server{}
)
