package config

import "github.com/zpdzap/sandpreview/internal/fstree"

const (
	DefaultEngine           = "auto"
	DefaultImage            = "node:20-bookworm-slim"
	DefaultBootTimeout      = "2m"
	DefaultCPUs             = 2.0
	DefaultMemoryMB         = 2048
	DefaultPidsLimit        = 1024
	DefaultHost             = "localhost"
	DefaultProbeInterval    = "250ms"
	DefaultProbeMaxInterval = "2s"
	DefaultOutputBuffer     = 256 * 1024
	DefaultMaxFileSize      = 8 << 20
	DefaultServerAddr       = "127.0.0.1:4173"
	DefaultAdSlot           = "1234567890"
	DefaultAdFormat         = "auto"
	DefaultLogLevel         = "info"
)

// Default returns a config for a node project with npm, matching what
// Load produces for an empty config file.
func Default(project string) *Config {
	return &Config{
		Version:  "1",
		Project:  project,
		Language: "node",
		Sandbox: Sandbox{
			Engine:      DefaultEngine,
			Image:       DefaultImage,
			BootTimeout: DefaultBootTimeout,
			CPUs:        DefaultCPUs,
			MemoryMB:    DefaultMemoryMB,
			PidsLimit:   DefaultPidsLimit,
			TTY:         true,
			Env:         map[string]string{},
		},
		Workflow: Workflow{
			Install:          Command{Command: "npm", Args: []string{"install"}},
			Run:              Command{Command: "npm", Args: []string{"run", "dev"}},
			Ports:            []int{3000},
			Host:             DefaultHost,
			ProbeInterval:    DefaultProbeInterval,
			ProbeMaxInterval: DefaultProbeMaxInterval,
			OutputBuffer:     DefaultOutputBuffer,
		},
		Files: Files{
			Source:      ".",
			Ignore:      append([]string(nil), fstree.DefaultIgnore...),
			MaxFileSize: DefaultMaxFileSize,
		},
		Server: Server{Addr: DefaultServerAddr},
		Ads:    Ads{Slot: DefaultAdSlot, Format: DefaultAdFormat},
		Log:    Log{Level: DefaultLogLevel, File: Dir + "/" + LogFile},
	}
}

func defaults(project string) map[string]any {
	d := Default(project)
	return map[string]any{
		"version":                     d.Version,
		"project":                     d.Project,
		"language":                    d.Language,
		"sandbox.engine":              d.Sandbox.Engine,
		"sandbox.image":               d.Sandbox.Image,
		"sandbox.boot_timeout":        d.Sandbox.BootTimeout,
		"sandbox.cpus":                d.Sandbox.CPUs,
		"sandbox.memory_mb":           d.Sandbox.MemoryMB,
		"sandbox.pids_limit":          d.Sandbox.PidsLimit,
		"sandbox.tty":                 d.Sandbox.TTY,
		"workflow.install.command":    d.Workflow.Install.Command,
		"workflow.install.args":       d.Workflow.Install.Args,
		"workflow.run.command":        d.Workflow.Run.Command,
		"workflow.run.args":           d.Workflow.Run.Args,
		"workflow.ports":              d.Workflow.Ports,
		"workflow.host":               d.Workflow.Host,
		"workflow.probe_interval":     d.Workflow.ProbeInterval,
		"workflow.probe_max_interval": d.Workflow.ProbeMaxInterval,
		"workflow.output_buffer":      d.Workflow.OutputBuffer,
		"files.source":                d.Files.Source,
		"files.ignore":                d.Files.Ignore,
		"files.max_file_size":         d.Files.MaxFileSize,
		"server.addr":                 d.Server.Addr,
		"ads.slot":                    d.Ads.Slot,
		"ads.format":                  d.Ads.Format,
		"log.level":                   d.Log.Level,
		"log.file":                    d.Log.File,
	}
}
