// Package service registers the agent to start with the user's session.
package service

import "errors"

// Common errors
var (
	ErrNotInstalled     = errors.New("autostart is not installed")
	ErrAlreadyInstalled = errors.New("autostart is already installed")
	ErrUnsupported      = errors.New("autostart is not supported on this platform")
)

// Name identifies the agent's autostart entry.
const Name = "pcsc-agent"

// Service is a platform-specific autostart entry running "pcsc-agent
// serve".
type Service interface {
	Install() error
	Uninstall() error
	IsInstalled() bool
	Status() (string, error)
}
