// Package config reads the YAML configuration of a tcnode process.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/usernamenenad/trusted-collective/core"
	"github.com/usernamenenad/trusted-collective/impl/tc"
	"github.com/usernamenenad/trusted-collective/impl/tca"
	"github.com/usernamenenad/trusted-collective/impl/tcc"
)

type Config struct {
	Node       uint64     `yaml:"node" validate:"required"`
	Service    uint64     `yaml:"service"`
	Store      Store      `yaml:"store"`
	Transport  Transport  `yaml:"transport"`
	Log        Log        `yaml:"log"`
	Admin      Admin      `yaml:"admin"`
	SpoolDir   string     `yaml:"spool_dir"`
	Collective Collective `yaml:"collective"`
}

type Store struct {
	Kind string `yaml:"kind" validate:"oneof=badger memory"`
	Dir  string `yaml:"dir" validate:"required_if=Kind badger"`
}

type Transport struct {
	Kind   string            `yaml:"kind" validate:"oneof=tcp quic"`
	Listen string            `yaml:"listen" validate:"required,hostname_port"`
	Secret string            `yaml:"secret"`
	Peers  map[string]string `yaml:"peers" validate:"dive,keys,startswith=ipn:,endkeys,hostname_port"`
}

type Log struct {
	Dir   string `yaml:"dir"`
	Debug bool   `yaml:"debug"`
}

type Admin struct {
	Listen string `yaml:"listen" validate:"omitempty,hostname_port"`
}

type Member struct {
	Node      uint64 `yaml:"node" validate:"required"`
	InService bool   `yaml:"in_service"`
}

type Collective struct {
	Group       uint64   `yaml:"group" validate:"required"`
	Diffusion   int      `yaml:"diffusion" validate:"min=1,max=255"`
	Redundancy  float64  `yaml:"redundancy" validate:"gte=0"`
	Authorities []Member `yaml:"authorities" validate:"min=2,dive"`
	Clients     []uint64 `yaml:"clients"`

	CompilationInterval time.Duration `yaml:"compilation_interval" validate:"min=1s"`
	ConsensusInterval   time.Duration `yaml:"consensus_interval" validate:"gt=0s"`
	WakeLead            time.Duration `yaml:"wake_lead" validate:"gte=0"`
	BundleTTL           time.Duration `yaml:"bundle_ttl" validate:"gte=0"`
	Hijacked            bool          `yaml:"hijacked"`
	MaxCompromised      int           `yaml:"max_compromised" validate:"gte=0"`
}

// Default returns the configuration used for every field the file leaves out.
func Default() Config {
	return Config{
		Store:     Store{Kind: "badger", Dir: "tc-data"},
		Transport: Transport{Kind: "tcp", Listen: "127.0.0.1:4556"},
		Collective: Collective{
			Group:               977,
			Diffusion:           4,
			Redundancy:          1,
			CompilationInterval: time.Minute,
			ConsensusInterval:   10 * time.Second,
			WakeLead:            5 * time.Second,
		},
	}
}

// Load reads and validates the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// EID is the endpoint identifier of this node.
func (c *Config) EID() string {
	return core.NodeEndpoint(core.NodeNbr(c.Node), c.Service)
}

func (c *Collective) Groups() tc.Groups {
	return tc.DefaultGroups(c.Group)
}

func (c *Collective) AuthoritySettings() tca.Settings {
	members := make([]tca.Member, len(c.Authorities))
	for i, m := range c.Authorities {
		members[i] = tca.Member{Node: core.NodeNbr(m.Node), InService: m.InService}
	}
	clients := make([]core.NodeNbr, len(c.Clients))
	for i, n := range c.Clients {
		clients[i] = core.NodeNbr(n)
	}
	return tca.Settings{
		Diffusion:           c.Diffusion,
		Redundancy:          c.Redundancy,
		Authorities:         members,
		Clients:             clients,
		Groups:              c.Groups(),
		CompilationInterval: c.CompilationInterval,
		ConsensusInterval:   c.ConsensusInterval,
		WakeLead:            c.WakeLead,
		BundleTTL:           c.BundleTTL,
		Hijacked:            c.Hijacked,
	}
}

func (c *Collective) ClientSettings() tcc.Settings {
	nodes := make([]core.NodeNbr, len(c.Authorities))
	for i, m := range c.Authorities {
		nodes[i] = core.NodeNbr(m.Node)
	}
	return tcc.Settings{
		Diffusion:      c.Diffusion,
		Redundancy:     c.Redundancy,
		Authorities:    nodes,
		Blocks:         c.Groups().Blocks,
		MaxCompromised: c.MaxCompromised,
	}
}

// IsAuthority reports whether this node is on the roster.
func (c *Config) IsAuthority() bool {
	for _, m := range c.Collective.Authorities {
		if m.Node == c.Node {
			return true
		}
	}
	return false
}
