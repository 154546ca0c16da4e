//go:build linux

package service

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"text/template"
)

var unitTemplate = template.Must(template.New("unit").Parse(`[Unit]
Description=PC/SC Agent - local smart card service bridge
After=pcscd.socket

[Service]
Type=simple
ExecStart={{.Executable}} serve
Restart=on-failure
RestartSec=5

[Install]
WantedBy=default.target
`))

// systemdService is a systemd user unit.
type systemdService struct {
	unitDir   string
	systemctl func(args ...string) error
}

// New returns the autostart entry for the current user.
func New() Service {
	home, _ := os.UserHomeDir()
	return &systemdService{
		unitDir:   filepath.Join(home, ".config", "systemd", "user"),
		systemctl: runSystemctl,
	}
}

func (s *systemdService) unitPath() string {
	return filepath.Join(s.unitDir, Name+".service")
}

func renderUnit(executable string) ([]byte, error) {
	var buf bytes.Buffer
	if err := unitTemplate.Execute(&buf, struct{ Executable string }{executable}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (s *systemdService) Install() error {
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

	unit, err := renderUnit(executable)
	if err != nil {
		return fmt.Errorf("render unit: %w", err)
	}
	if err := os.MkdirAll(s.unitDir, 0755); err != nil {
		return fmt.Errorf("create systemd user directory: %w", err)
	}
	if err := os.WriteFile(s.unitPath(), unit, 0644); err != nil {
		return fmt.Errorf("write unit: %w", err)
	}

	if err := s.systemctl("daemon-reload"); err != nil {
		return err
	}
	return s.systemctl("enable", "--now", Name+".service")
}

func (s *systemdService) Uninstall() error {
	if !s.IsInstalled() {
		return ErrNotInstalled
	}

	// Best effort, the unit may already be stopped or disabled.
	_ = s.systemctl("disable", "--now", Name+".service")

	if err := os.Remove(s.unitPath()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove unit: %w", err)
	}
	return s.systemctl("daemon-reload")
}

func (s *systemdService) IsInstalled() bool {
	_, err := os.Stat(s.unitPath())
	return err == nil
}

func (s *systemdService) Status() (string, error) {
	if !s.IsInstalled() {
		return "not installed", nil
	}
	out, _ := exec.Command("systemctl", "--user", "is-active", Name+".service").Output()
	if strings.TrimSpace(string(out)) == "active" {
		return "running", nil
	}
	return "installed but not running", nil
}

func runSystemctl(args ...string) error {
	out, err := exec.Command("systemctl", append([]string{"--user"}, args...)...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("systemctl %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return nil
}
