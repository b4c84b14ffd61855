package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
	yamlv3 "gopkg.in/yaml.v3"
)

const (
	Dir         = ".sandpreview"
	ConfigFile  = "config.yaml"
	StateFile   = "state.json"
	LockFile    = "session.lock"
	LogFile     = "sp.log"
	WorkdirDir  = "workdirs"
	EnvPrefix   = "SP_"
	FrameAllows = "allow-scripts allow-same-origin allow-forms allow-popups allow-modals"
)

type Config struct {
	Version  string   `yaml:"version" koanf:"version"`
	Project  string   `yaml:"project" koanf:"project"`
	Language string   `yaml:"language" koanf:"language"`
	Sandbox  Sandbox  `yaml:"sandbox" koanf:"sandbox"`
	Workflow Workflow `yaml:"workflow" koanf:"workflow"`
	Files    Files    `yaml:"files" koanf:"files"`
	Server   Server   `yaml:"server" koanf:"server"`
	Ads      Ads      `yaml:"ads" koanf:"ads"`
	Log      Log      `yaml:"log" koanf:"log"`
}

type Sandbox struct {
	Engine      string            `yaml:"engine" koanf:"engine"` // auto, docker, podman, local
	Image       string            `yaml:"image" koanf:"image"`
	BootTimeout string            `yaml:"boot_timeout" koanf:"boot_timeout"`
	CPUs        float64           `yaml:"cpus" koanf:"cpus"`
	MemoryMB    int               `yaml:"memory_mb" koanf:"memory_mb"`
	PidsLimit   int               `yaml:"pids_limit" koanf:"pids_limit"`
	Network     string            `yaml:"network,omitempty" koanf:"network"`
	TTY         bool              `yaml:"tty" koanf:"tty"`
	Env         map[string]string `yaml:"env" koanf:"env"`
	Mounts      []string          `yaml:"mounts" koanf:"mounts"`
}

type Workflow struct {
	Install          Command `yaml:"install" koanf:"install"`
	Run              Command `yaml:"run" koanf:"run"`
	Ports            []int   `yaml:"ports" koanf:"ports"`
	Host             string  `yaml:"host" koanf:"host"`
	ProbeInterval    string  `yaml:"probe_interval" koanf:"probe_interval"`
	ProbeMaxInterval string  `yaml:"probe_max_interval" koanf:"probe_max_interval"`
	OutputBuffer     int     `yaml:"output_buffer" koanf:"output_buffer"`
}

type Command struct {
	Command string   `yaml:"command" koanf:"command"`
	Args    []string `yaml:"args" koanf:"args"`
}

// String renders the command line for display.
func (c Command) String() string {
	return strings.TrimSpace(c.Command + " " + strings.Join(c.Args, " "))
}

type Files struct {
	// Source is a directory to snapshot, or a .json/.yaml tree file.
	Source      string   `yaml:"source" koanf:"source"`
	Ignore      []string `yaml:"ignore" koanf:"ignore"`
	MaxFileSize int64    `yaml:"max_file_size" koanf:"max_file_size"`
}

type Server struct {
	Addr         string   `yaml:"addr" koanf:"addr"`
	AllowOrigins []string `yaml:"allow_origins" koanf:"allow_origins"`
}

// Ads configures the optional ad slot on the web panel. It is disabled while
// Client is empty.
type Ads struct {
	Client string `yaml:"client" koanf:"client"`
	Slot   string `yaml:"slot" koanf:"slot"`
	Format string `yaml:"format" koanf:"format"`
}

// Enabled reports whether the ad slot should be rendered.
func (a Ads) Enabled() bool { return a.Client != "" }

type Log struct {
	Level string `yaml:"level" koanf:"level"`
	File  string `yaml:"file" koanf:"file"`
}

// FlagKeys maps command-line flag names onto config keys.
var FlagKeys = map[string]string{
	"engine":    "sandbox.engine",
	"image":     "sandbox.image",
	"source":    "files.source",
	"addr":      "server.addr",
	"log-level": "log.level",
}

// Load layers defaults, .sandpreview/config.yaml, SP_* environment variables
// and command-line flags, in that order.
func Load(projectDir string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")
	for key, value := range defaults(filepath.Base(projectDir)) {
		if err := k.Set(key, value); err != nil {
			return nil, fmt.Errorf("setting default %s: %w", key, err)
		}
	}

	path := filepath.Join(projectDir, Dir, ConfigFile)
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}

	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			key, ok := FlagKeys[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			return key, posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("reading flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the sandbox layer cannot act on.
func (c *Config) Validate() error {
	switch c.Sandbox.Engine {
	case "auto", "docker", "podman", "local":
	default:
		return fmt.Errorf("sandbox.engine: unknown engine %q", c.Sandbox.Engine)
	}
	if c.Workflow.Install.Command == "" {
		return fmt.Errorf("workflow.install.command is required")
	}
	if c.Workflow.Run.Command == "" {
		return fmt.Errorf("workflow.run.command is required")
	}
	if len(c.Workflow.Ports) == 0 {
		return fmt.Errorf("workflow.ports: at least one port is required")
	}
	for _, p := range c.Workflow.Ports {
		if p <= 0 || p > 65535 {
			return fmt.Errorf("workflow.ports: invalid port %d", p)
		}
	}
	for _, key := range []string{c.Sandbox.BootTimeout, c.Workflow.ProbeInterval, c.Workflow.ProbeMaxInterval} {
		if _, err := DurationOrDefault(key, "1s"); err != nil {
			return err
		}
	}
	return nil
}

// Save writes config to .sandpreview/config.yaml relative to projectDir.
func Save(projectDir string, cfg *Config) error {
	dir := filepath.Join(projectDir, Dir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	data, err := yamlv3.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	path := filepath.Join(dir, ConfigFile)
	return os.WriteFile(path, data, 0o644)
}

// ConfigPath returns the path to the config directory.
func ConfigPath(projectDir string) string {
	return filepath.Join(projectDir, Dir)
}

// Exists returns true if .sandpreview/config.yaml exists.
func Exists(projectDir string) bool {
	path := filepath.Join(projectDir, Dir, ConfigFile)
	_, err := os.Stat(path)
	return err == nil
}
