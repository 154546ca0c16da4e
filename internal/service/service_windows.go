//go:build windows

package service

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/windows/registry"
)

const (
	runKey   = `Software\Microsoft\Windows\CurrentVersion\Run`
	runValue = "PCSCAgent"
)

// runKeyService is a value under the user's Run key.
type runKeyService struct{}

// New returns the autostart entry for the current user.
func New() Service {
	return runKeyService{}
}

func (s runKeyService) Install() error {
	if s.IsInstalled() {
		return ErrAlreadyInstalled
	}

	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locate executable: %w", err)
	}
	if executable, err = filepath.Abs(executable); err != nil {
		return fmt.Errorf("resolve executable: %w", err)
	}

	key, _, err := registry.CreateKey(registry.CURRENT_USER, runKey, registry.SET_VALUE)
	if err != nil {
		return fmt.Errorf("open Run key: %w", err)
	}
	defer key.Close()

	if err := key.SetStringValue(runValue, fmt.Sprintf(`"%s" serve`, executable)); err != nil {
		return fmt.Errorf("set Run value: %w", err)
	}
	return nil
}

func (s runKeyService) Uninstall() error {
	if !s.IsInstalled() {
		return ErrNotInstalled
	}

	key, err := registry.OpenKey(registry.CURRENT_USER, runKey, registry.SET_VALUE)
	if err != nil {
		return fmt.Errorf("open Run key: %w", err)
	}
	defer key.Close()

	if err := key.DeleteValue(runValue); err != nil {
		return fmt.Errorf("delete Run value: %w", err)
	}
	return nil
}

func (runKeyService) IsInstalled() bool {
	key, err := registry.OpenKey(registry.CURRENT_USER, runKey, registry.QUERY_VALUE)
	if err != nil {
		return false
	}
	defer key.Close()

	_, _, err = key.GetStringValue(runValue)
	return err == nil
}

func (s runKeyService) Status() (string, error) {
	if !s.IsInstalled() {
		return "not installed", nil
	}
	return "installed (starts on login)", nil
}
