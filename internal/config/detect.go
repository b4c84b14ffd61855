package config

import (
	"os"
	"path/filepath"

	"github.com/tidwall/gjson"
)

type Detection struct {
	Language       string
	PackageManager string
	Install        Command
	Run            Command
	Ports          []int
}

// Detect inspects the project directory and returns the package manager,
// install/run commands and the port the dev server is expected to listen on.
func Detect(projectDir string) Detection {
	pkg, err := os.ReadFile(filepath.Join(projectDir, "package.json"))
	if err != nil {
		return Detection{Language: "unknown"}
	}

	lockfiles := []struct {
		file    string
		manager string
	}{
		{"pnpm-lock.yaml", "pnpm"},
		{"yarn.lock", "yarn"},
		{"bun.lockb", "bun"},
		{"bun.lock", "bun"},
		{"package-lock.json", "npm"},
	}
	manager := "npm"
	for _, l := range lockfiles {
		if _, err := os.Stat(filepath.Join(projectDir, l.file)); err == nil {
			manager = l.manager
			break
		}
	}

	script := "dev"
	scripts := gjson.GetBytes(pkg, "scripts")
	if !scripts.Get("dev").Exists() && scripts.Get("start").Exists() {
		script = "start"
	}

	det := Detection{
		Language:       "node",
		PackageManager: manager,
		Install:        Command{Command: manager, Args: []string{"install"}},
		Run:            Command{Command: manager, Args: []string{"run", script}},
		Ports:          []int{detectPort(pkg)},
	}
	return det
}

// detectPort guesses the dev server port from well-known frameworks.
func detectPort(pkg []byte) int {
	frameworks := []struct {
		dep  string
		port int
	}{
		{"vite", 5173},
		{"astro", 4321},
		{"@angular/core", 4200},
		{"next", 3000},
		{"react-scripts", 3000},
	}
	for _, f := range frameworks {
		for _, section := range []string{"dependencies", "devDependencies"} {
			if gjson.GetBytes(pkg, section+"."+gjson.Escape(f.dep)).Exists() {
				return f.port
			}
		}
	}
	return 3000
}
