package tui

import "strings"

// Command is one entry typed into the command bar.
type Command struct {
	Name string
	Args []string
}

// commands lists what the command bar understands, in help order.
var commands = []struct {
	name string
	desc string
}{
	{"reload", "Remount the preview frame"},
	{"open", "Open the preview in a browser"},
	{"copy", "Copy the preview URL"},
	{"restart", "Tear down and boot a fresh sandbox"},
	{"files", "Toggle the mounted file tree"},
	{"help", "Show this help"},
	{"quit", "Stop the sandbox and exit"},
}

// ParseCommand splits command bar input. The leading slash is optional and
// names are case-insensitive. Blank input yields nil.
func ParseCommand(input string) *Command {
	parts := strings.Fields(strings.TrimPrefix(strings.TrimSpace(input), "/"))
	if len(parts) == 0 {
		return nil
	}
	return &Command{
		Name: strings.ToLower(parts[0]),
		Args: parts[1:],
	}
}
