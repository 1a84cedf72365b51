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
package main

import (
	"bufio"
	"errors"
	"net"

	"github.com/sirupsen/logrus"

	"github.com/lindleyw/juno/internal/tsproto"
)

// tcpLink is the one concrete pool.Link this repository ships: a TS6
// line written straight to a TCP (or TLS) connection with a trailing
// CRLF, the same framing ThomasHabets-goircd/client.go's Msg used for
// local clients. The I/O transport is explicitly out of the core's
// scope (spec.md §1); this is the thin ambient piece that makes the
// rest of the engine reachable over a real socket.
type tcpLink struct {
	sid  string
	conn net.Conn
	log  *logrus.Entry
}

func newTCPLink(sid string, conn net.Conn, log *logrus.Entry) *tcpLink {
	return &tcpLink{sid: sid, conn: conn, log: log}
}

// Send implements pool.Link.
func (l *tcpLink) Send(f tsproto.Frame) {
	if _, err := l.conn.Write([]byte(f.String() + "\r\n")); err != nil {
		l.log.WithError(err).Warn("write to peer failed")
	}
}

// readLoop blockingly reads CRLF-delimited TS6 lines from the link
// and hands each to decode, until the connection drops or decode
// reports a UID collision — the generalization of goircd's
// Client.Processor read loop to a peer-to-peer link instead of a local
// client socket.
func (l *tcpLink) readLoop(decode func(peerSID string, f tsproto.Frame) error) {
	scanner := bufio.NewScanner(l.conn)
	scanner.Buffer(make([]byte, 0, 4096), 65536)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		if err := decode(l.sid, tsproto.ParseFrame(line)); err != nil {
			if errors.Is(err, tsproto.ErrUIDCollision) {
				l.log.WithError(err).Warn("disconnecting peer link")
				return
			}
			l.log.WithError(err).Debug("dropped frame")
		}
	}
	if err := scanner.Err(); err != nil {
		l.log.WithError(err).Warn("peer link read failed")
	} else {
		l.log.Info("peer link closed")
	}
}
