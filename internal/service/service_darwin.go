//go:build darwin

package service

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"text/template"
)

const launchAgentLabel = "com.simplyprint." + Name

var plistTemplate = template.Must(template.New("plist").Parse(`<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>{{.Label}}</string>
    <key>ProgramArguments</key>
    <array>
        <string>{{.Executable}}</string>
        <string>serve</string>
    </array>
    <key>RunAtLoad</key>
    <true/>
    <key>KeepAlive</key>
    <dict>
        <key>SuccessfulExit</key>
        <false/>
    </dict>
    <key>StandardErrorPath</key>
    <string>{{.LogDir}}/pcsc-agent.err</string>
</dict>
</plist>
`))

// launchAgent is a per-user launchd job.
type launchAgent struct {
	home string
}

// New returns the autostart entry for the current user.
func New() Service {
	home, _ := os.UserHomeDir()
	return &launchAgent{home: home}
}

func (s *launchAgent) plistPath() string {
	return filepath.Join(s.home, "Library", "LaunchAgents", launchAgentLabel+".plist")
}

func (s *launchAgent) Install() error {
	if s.IsInstalled() {
		return ErrAlreadyInstalled
	}

	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locate executable: %w", err)
	}
	if executable, err = filepath.EvalSymlinks(executable); err != nil {
		return fmt.Errorf("resolve executable: %w", err)
	}

	logDir := filepath.Join(s.home, "Library", "Logs", "PCSC-Agent")
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.plistPath()), 0755); err != nil {
		return fmt.Errorf("create LaunchAgents directory: %w", err)
	}

	var buf bytes.Buffer
	err = plistTemplate.Execute(&buf, struct{ Label, Executable, LogDir string }{launchAgentLabel, executable, logDir})
	if err != nil {
		return fmt.Errorf("render plist: %w", err)
	}
	if err := os.WriteFile(s.plistPath(), buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("write plist: %w", err)
	}

	if out, err := exec.Command("launchctl", "load", "-w", s.plistPath()).CombinedOutput(); err != nil {
		return fmt.Errorf("launchctl load: %w: %s", err, out)
	}
	return nil
}

func (s *launchAgent) Uninstall() error {
	if !s.IsInstalled() {
		return ErrNotInstalled
	}

	// Ignore errors if not loaded.
	_ = exec.Command("launchctl", "unload", "-w", s.plistPath()).Run()

	if err := os.Remove(s.plistPath()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove plist: %w", err)
	}
	return nil
}

func (s *launchAgent) IsInstalled() bool {
	_, err := os.Stat(s.plistPath())
	return err == nil
}

func (s *launchAgent) Status() (string, error) {
	if !s.IsInstalled() {
		return "not installed", nil
	}
	if err := exec.Command("launchctl", "list", launchAgentLabel).Run(); err != nil {
		return "installed but not running", nil
	}
	return "running", nil
}
