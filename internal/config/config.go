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

// Package config is the ambient, out-of-core-scope (spec.md §1) YAML
// configuration loader: it turns a single flat config.yaml into the
// values cmd/ts6ircd needs to stand up a Pool and its mesh links.
// Exported fields are deserialized directly from YAML, the way
// oragono's irc/config.go does it; LoadConfig then validates and
// fills in the handful of defaults the wire contract requires.
package config

import (
	"io/ioutil"
	"net"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"github.com/lindleyw/juno/internal/ts6id"
)

// ErrServerNameMissing is returned when the top-level server name is blank.
var ErrServerNameMissing = errors.New("config: server.name is required")

// ErrSIDInvalid is returned when server.sid isn't a syntactically valid TS6 SID.
var ErrSIDInvalid = errors.New("config: server.sid must be a valid TS6 SID")

// ErrPeerFieldMissing is returned when a peers[] entry is missing a required field.
var ErrPeerFieldMissing = errors.New("config: peer entry missing name, sid, address or password")

// ErrPeerSIDInvalid is returned when a peers[] entry's sid isn't valid TS6.
var ErrPeerSIDInvalid = errors.New("config: peer sid must be a valid TS6 SID")

// ServerConfig is this process's own identity in the mesh.
type ServerConfig struct {
	Name        string `yaml:"name"`
	SID         string `yaml:"sid"`
	Description string `yaml:"description"`
	Bind        string `yaml:"bind"`
	TLSCert     string `yaml:"tls-cert"`
	TLSKey      string `yaml:"tls-key"`
}

// PeerConfig describes one other mesh member this process links to.
type PeerConfig struct {
	Name     string   `yaml:"name"`
	SID      string   `yaml:"sid"`
	Address  string   `yaml:"address"`
	Password string   `yaml:"password"`
	Capabs   []string `yaml:"capabs"`
	AutoConn bool     `yaml:"autoconn"`
}

// OperConfig is a local operator account.
type OperConfig struct {
	Name     string `yaml:"name"`
	Password string `yaml:"password"`
}

// BanDefaults fills in duration/lifetime when a local KLINE/DLINE/RESV
// command omits them, mirroring spec.md §3's Ban fields.
type BanDefaults struct {
	Duration int64 `yaml:"duration"`
	Lifetime int64 `yaml:"lifetime"`
}

// Limits are the wire truncation bounds modeapply.New takes, spec.md
// §4.4 step 3's "truncated per config".
type Limits struct {
	MaxParamLength int `yaml:"max-param-length"`
	MaxBanLength   int `yaml:"max-ban-length"`
}

// Config is the whole of config.yaml.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Peers   []PeerConfig  `yaml:"peers"`
	Opers   []OperConfig  `yaml:"opers"`
	Bans    BanDefaults   `yaml:"ban-defaults"`
	Limits  Limits        `yaml:"limits"`
	MOTD    string        `yaml:"motd"`

	// Filename is set by LoadConfig, not deserialized.
	Filename string `yaml:"-"`
}

// defaultLimits matches the classic TS6 wire limits (ircd-hybrid-family
// KICKLEN/TOPICLEN-adjacent ban/param truncation) used throughout the
// retrieved pack's ircd examples.
const (
	defaultMaxParamLength = 50
	defaultMaxBanLength   = 1024
)

// LoadRawConfig reads and YAML-decodes filename without validation,
// the oragono LoadRawConfig/LoadConfig split.
func LoadRawConfig(filename string) (*Config, error) {
	data, err := ioutil.ReadFile(filename)
	if err != nil {
		return nil, errors.Wrap(err, "config: read")
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "config: parse")
	}
	return &cfg, nil
}

// LoadConfig loads filename and validates/defaults it for use.
func LoadConfig(filename string) (*Config, error) {
	cfg, err := LoadRawConfig(filename)
	if err != nil {
		return nil, err
	}
	cfg.Filename = filename
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

// Validate checks the handful of fields the rest of the system can't
// safely default, following oragono LoadConfig's fail-fast style.
func (c *Config) Validate() error {
	if c.Server.Name == "" {
		return ErrServerNameMissing
	}
	if !ts6id.ValidSID(c.Server.SID) {
		return ErrSIDInvalid
	}
	if c.Server.Bind != "" {
		if _, _, err := net.SplitHostPort(c.Server.Bind); err != nil {
			return errors.Wrap(err, "config: server.bind")
		}
	}
	for _, peer := range c.Peers {
		if peer.Name == "" || peer.SID == "" || peer.Address == "" || peer.Password == "" {
			return ErrPeerFieldMissing
		}
		if !ts6id.ValidSID(peer.SID) {
			return ErrPeerSIDInvalid
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Limits.MaxParamLength <= 0 {
		c.Limits.MaxParamLength = defaultMaxParamLength
	}
	if c.Limits.MaxBanLength <= 0 {
		c.Limits.MaxBanLength = defaultMaxBanLength
	}
	if c.Bans.Duration <= 0 {
		c.Bans.Duration = 24 * 60 * 60
	}
	if c.Bans.Lifetime < c.Bans.Duration {
		c.Bans.Lifetime = c.Bans.Duration
	}
}

// PeerCapabs turns a peer's configured capab names into the set shape
// tsproto's encoders expect.
func (pc PeerConfig) PeerCapabs() map[string]bool {
	caps := make(map[string]bool, len(pc.Capabs))
	for _, c := range pc.Capabs {
		caps[c] = true
	}
	return caps
}
