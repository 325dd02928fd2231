package domain

import (
	"fmt"

	"github.com/sshfleet/sshfleet/internal/domain/sverr"
)

// Validate reports the first reason HostSpec cannot be used to create a
// Supervisor: name, host, port, username, and auth.type are all required.
func (s *HostSpec) Validate() error {
	switch {
	case s.Name == "":
		return sverr.Precondition("host spec missing required field: name")
	case s.Host == "":
		return sverr.Precondition(fmt.Sprintf("%s: missing required field: host", s.Name))
	case s.Port == 0:
		return sverr.Precondition(fmt.Sprintf("%s: missing required field: port", s.Name))
	case s.Username == "":
		return sverr.Precondition(fmt.Sprintf("%s: missing required field: username", s.Name))
	case s.Auth.Type == "":
		return sverr.Precondition(fmt.Sprintf("%s: missing required field: auth.type", s.Name))
	case s.Auth.Type != AuthKey && s.Auth.Type != AuthPassword:
		return sverr.Precondition(fmt.Sprintf("%s: unknown auth type: %q", s.Name, s.Auth.Type))
	}
	return nil
}
