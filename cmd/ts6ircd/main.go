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

// Command ts6ircd is the ambient bootstrap: flag parsing, config
// loading, logging setup and mesh-link wiring around the core engine
// in internal/pool, internal/tsproto, internal/modeapply and
// internal/banengine. It is the direct generalization of
// ThomasHabets-goircd/goircd.go's Run/main to a mesh of peers instead
// of a single flat listener.
package main

import (
	"bufio"
	"crypto/tls"
	"flag"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	formatter "github.com/antonfisher/nested-logrus-formatter"
	"github.com/sirupsen/logrus"

	"github.com/lindleyw/juno/internal/banengine"
	"github.com/lindleyw/juno/internal/cmode"
	"github.com/lindleyw/juno/internal/config"
	"github.com/lindleyw/juno/internal/eventbus"
	"github.com/lindleyw/juno/internal/modeapply"
	"github.com/lindleyw/juno/internal/pool"
	"github.com/lindleyw/juno/internal/tsproto"
)

var (
	configPath = flag.String("config", "config.yaml", "Path to config.yaml")
	verbose    = flag.Bool("v", false, "Enable verbose (debug) logging")
	pruneEvery = flag.Duration("prune-interval", time.Minute, "Ban-prune tick interval")
)

func newLogger(verbose bool) *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&formatter.Formatter{
		FieldsOrder:     []string{"peer", "sid", "channel"},
		TimestampFormat: time.RFC3339,
	})
	if verbose {
		log.SetLevel(logrus.DebugLevel)
	}
	return log
}

func run() error {
	flag.Parse()
	log := newLogger(*verbose)

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("loading %s: %w", *configPath, err)
	}

	tbl := cmode.DefaultTable()
	applicator := modeapply.New(tbl, cfg.Limits.MaxParamLength, cfg.Limits.MaxBanLength)
	bans := banengine.New()
	pl := pool.New(tbl, applicator, bans, log)

	pl.Events.On(pool.NoticeOperatorsEvent, func(e eventbus.Event) bool {
		log.Warn(e.Data)
		return false
	})

	tr := tsproto.New(pl, log)

	mesh := &meshServer{cfg: cfg, pool: pl, translator: tr, log: log}

	for _, peer := range cfg.Peers {
		if peer.AutoConn {
			go mesh.dialPeer(peer)
		}
	}

	go mesh.pruneLoop(*pruneEvery)

	return mesh.listen()
}

func main() {
	if err := run(); err != nil {
		logrus.Fatal(err)
	}
}

// meshServer owns the listener/dialer glue that turns configured
// peers and inbound connections into pool.Peer entries with a live
// tcpLink, then hands their frames to the Translator.
type meshServer struct {
	cfg        *config.Config
	pool       *pool.Pool
	translator *tsproto.Translator
	log        *logrus.Logger
}

func (m *meshServer) listen() error {
	var listener net.Listener
	var err error
	if m.cfg.Server.TLSCert != "" {
		cert, cerr := tls.LoadX509KeyPair(m.cfg.Server.TLSCert, m.cfg.Server.TLSKey)
		if cerr != nil {
			return fmt.Errorf("loading TLS keypair: %w", cerr)
		}
		listener, err = tls.Listen("tcp", m.cfg.Server.Bind, &tls.Config{Certificates: []tls.Certificate{cert}})
	} else {
		listener, err = net.Listen("tcp", m.cfg.Server.Bind)
	}
	if err != nil {
		return fmt.Errorf("listening on %s: %w", m.cfg.Server.Bind, err)
	}
	m.log.WithField("bind", m.cfg.Server.Bind).Info("listening for peer links")

	for {
		conn, err := listener.Accept()
		if err != nil {
			m.log.WithError(err).Warn("accept failed")
			continue
		}
		go m.acceptPeer(conn)
	}
}

func (m *meshServer) dialPeer(peer config.PeerConfig) {
	conn, err := net.Dial("tcp", peer.Address)
	if err != nil {
		m.log.WithError(err).WithField("peer", peer.Name).Warn("dial failed")
		return
	}
	m.handshakeOutbound(conn, peer)
}

func (m *meshServer) acceptPeer(conn net.Conn) {
	m.handshakeInbound(conn)
}

func (m *meshServer) sendHandshake(conn net.Conn, password string) error {
	lines := []string{
		"PASS " + password + " TS 6 :" + m.cfg.Server.SID,
		"CAPAB :" + strings.Join(tsproto.KnownCapabs, " "),
		"SERVER " + m.cfg.Server.Name + " 1 :" + m.cfg.Server.Description,
	}
	for _, l := range lines {
		if _, err := conn.Write([]byte(l + "\r\n")); err != nil {
			return err
		}
	}
	return nil
}

// readHandshake reads lines until PASS, CAPAB and SERVER have all
// been seen, returning the peer's advertised sid, name and
// capability set. Unrecognized lines are ignored — this is a minimal
// link negotiation, not a full TS6 state machine (spec.md §6 only
// specifies the post-link command set, not the handshake itself).
func readHandshake(scanner *bufio.Scanner) (sid, name string, caps map[string]bool, err error) {
	var gotPass, gotCapab, gotServer bool
	for scanner.Scan() {
		f := tsproto.ParseFrame(scanner.Text())
		switch f.Command {
		case "PASS":
			if len(f.Params) >= 4 {
				sid = f.Params[3]
				gotPass = true
			}
		case "CAPAB":
			caps = tsproto.ParseCapabs(f.Params)
			gotCapab = true
		case "SERVER":
			if len(f.Params) >= 1 {
				name = f.Params[0]
				gotServer = true
			}
		}
		if gotPass && gotCapab && gotServer {
			return sid, name, caps, nil
		}
	}
	if err = scanner.Err(); err == nil {
		err = fmt.Errorf("link closed before handshake completed")
	}
	return "", "", nil, err
}

func (m *meshServer) linkUp(conn net.Conn, sid, name string, caps map[string]bool) {
	entry := m.log.WithFields(logrus.Fields{"peer": sid, "name": name})
	link := newTCPLink(sid, conn, entry)
	m.pool.AddPeer(&pool.Server{SID: sid, Name: name, TS6SID: sid, Caps: caps}, link, nil)
	entry.Info("peer link established")
	m.pool.BurstBansTo(sid)
	link.readLoop(m.translator.Decode)
	m.pool.RemovePeer(sid)
	conn.Close()
	entry.Info("peer link torn down")
}

func (m *meshServer) handshakeOutbound(conn net.Conn, peer config.PeerConfig) {
	if err := m.sendHandshake(conn, peer.Password); err != nil {
		m.log.WithError(err).WithField("peer", peer.Name).Warn("handshake send failed")
		conn.Close()
		return
	}
	scanner := bufio.NewScanner(conn)
	sid, name, caps, err := readHandshake(scanner)
	if err != nil {
		m.log.WithError(err).WithField("peer", peer.Name).Warn("handshake read failed")
		conn.Close()
		return
	}
	if sid != peer.SID {
		m.log.WithFields(logrus.Fields{"expected": peer.SID, "got": sid}).Warn("peer sid mismatch, dropping link")
		conn.Close()
		return
	}
	m.linkUp(conn, sid, name, caps)
}

func (m *meshServer) handshakeInbound(conn net.Conn) {
	scanner := bufio.NewScanner(conn)
	sid, name, caps, err := readHandshake(scanner)
	if err != nil {
		m.log.WithError(err).Warn("inbound handshake read failed")
		conn.Close()
		return
	}
	peer, ok := m.peerBySID(sid)
	if !ok {
		m.log.WithField("sid", sid).Warn("unknown peer sid, dropping link")
		conn.Close()
		return
	}
	if err := m.sendHandshake(conn, peer.Password); err != nil {
		m.log.WithError(err).Warn("inbound handshake send failed")
		conn.Close()
		return
	}
	m.linkUp(conn, sid, name, caps)
}

func (m *meshServer) peerBySID(sid string) (config.PeerConfig, bool) {
	for _, p := range m.cfg.Peers {
		if p.SID == sid {
			return p, true
		}
	}
	return config.PeerConfig{}, false
}

func (m *meshServer) pruneLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for range ticker.C {
		removed := m.pool.PruneBans()
		if len(removed) > 0 {
			m.log.WithField("count", strconv.Itoa(len(removed))).Info("pruned expired bans")
		}
	}
}
