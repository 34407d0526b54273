package dynsec

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
)

// ACL types supported on roles.
const (
	ACLTypePublishSend      = "publishClientSend"
	ACLTypeSubscribeLiteral = "subscribeLiteral"
)

// ACL permissions.
const (
	PermissionAllow = "allow"
	PermissionDeny  = "deny"
)

// ErrInvalidACL is returned for unsupported ACL types or permissions.
var ErrInvalidACL = fmt.Errorf("dynsec: invalid ACL")

// ACL is one role access rule.
type ACL struct {
	Type       string `json:"acltype"`
	Topic      string `json:"topic"`
	Permission string `json:"permission"`
}

// Validate checks the ACL type and permission against the supported sets.
func (a ACL) Validate() error {
	if a.Type != ACLTypePublishSend && a.Type != ACLTypeSubscribeLiteral {
		return fmt.Errorf("%w: acltype %q", ErrInvalidACL, a.Type)
	}
	if a.Permission != PermissionAllow && a.Permission != PermissionDeny {
		return fmt.Errorf("%w: permission %q", ErrInvalidACL, a.Permission)
	}
	if a.Topic == "" {
		return fmt.Errorf("%w: empty topic", ErrInvalidACL)
	}
	return nil
}

// Service exposes dynamic-security operations on top of a Runner.
type Service struct {
	runner Runner
	log    *slog.Logger
}

// NewService wraps runner.
func NewService(runner Runner, log *slog.Logger) *Service {
	return &Service{runner: runner, log: log}
}

// CreateClient creates a client, then sets its password. If the password
// step fails the freshly created client is deleted again so a half-created
// client never lingers in the store.
func (s *Service) CreateClient(ctx context.Context, username, password string) error {
	if _, err := s.runner.Run(ctx, []string{"createClient", username}, ""); err != nil {
		return err
	}
	if _, err := s.runner.Run(ctx, []string{"setClientPassword", username, password}, ""); err != nil {
		if _, delErr := s.runner.Run(ctx, []string{"deleteClient", username}, ""); delErr != nil {
			s.log.Error("rollback of half-created client failed",
				"username", username, "error", delErr)
		}
		return err
	}
	return nil
}

// DeleteClient removes a client.
func (s *Service) DeleteClient(ctx context.Context, username string) error {
	_, err := s.runner.Run(ctx, []string{"deleteClient", username}, "")
	return err
}

// EnableClient re-enables a disabled client.
func (s *Service) EnableClient(ctx context.Context, username string) error {
	_, err := s.runner.Run(ctx, []string{"enableClient", username}, "")
	return err
}

// DisableClient disables a client without deleting it.
func (s *Service) DisableClient(ctx context.Context, username string) error {
	_, err := s.runner.Run(ctx, []string{"disableClient", username}, "")
	return err
}

// ListClients returns all client usernames.
func (s *Service) ListClients(ctx context.Context) ([]string, error) {
	out, err := s.runner.Run(ctx, []string{"listClients"}, "")
	if err != nil {
		return nil, err
	}
	return splitLines(out), nil
}

// GetClient returns the raw client detail document. mosquitto_ctrl prints
// JSON for getClient; if the output does not parse it is wrapped verbatim.
func (s *Service) GetClient(ctx context.Context, username string) (json.RawMessage, error) {
	out, err := s.runner.Run(ctx, []string{"getClient", username}, "")
	if err != nil {
		return nil, err
	}
	return rawOrMessage(out), nil
}

// AddClientRole attaches a role to a client.
func (s *Service) AddClientRole(ctx context.Context, username, role string) error {
	_, err := s.runner.Run(ctx, []string{"addClientRole", username, role}, "")
	return err
}

// RemoveClientRole detaches a role from a client.
func (s *Service) RemoveClientRole(ctx context.Context, username, role string) error {
	_, err := s.runner.Run(ctx, []string{"removeClientRole", username, role}, "")
	return err
}

// CreateRole creates an empty role.
func (s *Service) CreateRole(ctx context.Context, name string) error {
	_, err := s.runner.Run(ctx, []string{"createRole", name}, "")
	return err
}

// DeleteRole removes a role.
func (s *Service) DeleteRole(ctx context.Context, name string) error {
	_, err := s.runner.Run(ctx, []string{"deleteRole", name}, "")
	return err
}

// ListRoles returns all role names.
func (s *Service) ListRoles(ctx context.Context) ([]string, error) {
	out, err := s.runner.Run(ctx, []string{"listRoles"}, "")
	if err != nil {
		return nil, err
	}
	return splitLines(out), nil
}

// GetRole returns the raw role detail document.
func (s *Service) GetRole(ctx context.Context, name string) (json.RawMessage, error) {
	out, err := s.runner.Run(ctx, []string{"getRole", name}, "")
	if err != nil {
		return nil, err
	}
	return rawOrMessage(out), nil
}

// AddRoleACL adds an access rule to a role after validating it.
func (s *Service) AddRoleACL(ctx context.Context, role string, acl ACL) error {
	if err := acl.Validate(); err != nil {
		return err
	}
	_, err := s.runner.Run(ctx,
		[]string{"addRoleACL", role, acl.Type, acl.Topic, acl.Permission}, "")
	return err
}

// RemoveRoleACL removes an access rule from a role.
func (s *Service) RemoveRoleACL(ctx context.Context, role, aclType, topic string) error {
	if aclType != ACLTypePublishSend && aclType != ACLTypeSubscribeLiteral {
		return fmt.Errorf("%w: acltype %q", ErrInvalidACL, aclType)
	}
	_, err := s.runner.Run(ctx, []string{"removeRoleACL", role, aclType, topic}, "")
	return err
}

// CreateGroup creates an empty group.
func (s *Service) CreateGroup(ctx context.Context, name string) error {
	_, err := s.runner.Run(ctx, []string{"createGroup", name}, "")
	return err
}

// DeleteGroup removes a group.
func (s *Service) DeleteGroup(ctx context.Context, name string) error {
	_, err := s.runner.Run(ctx, []string{"deleteGroup", name}, "")
	return err
}

// ListGroups returns all group names.
func (s *Service) ListGroups(ctx context.Context) ([]string, error) {
	out, err := s.runner.Run(ctx, []string{"listGroups"}, "")
	if err != nil {
		return nil, err
	}
	return splitLines(out), nil
}

// GetGroup returns the raw group detail document.
func (s *Service) GetGroup(ctx context.Context, name string) (json.RawMessage, error) {
	out, err := s.runner.Run(ctx, []string{"getGroup", name}, "")
	if err != nil {
		return nil, err
	}
	return rawOrMessage(out), nil
}

// AddGroupRole attaches a role to a group.
func (s *Service) AddGroupRole(ctx context.Context, group, role string) error {
	_, err := s.runner.Run(ctx, []string{"addGroupRole", group, role}, "")
	return err
}

// RemoveGroupRole detaches a role from a group.
func (s *Service) RemoveGroupRole(ctx context.Context, group, role string) error {
	_, err := s.runner.Run(ctx, []string{"removeGroupRole", group, role}, "")
	return err
}

// AddGroupClient adds a client to a group.
func (s *Service) AddGroupClient(ctx context.Context, group, username string) error {
	_, err := s.runner.Run(ctx, []string{"addGroupClient", group, username}, "")
	return err
}

// RemoveGroupClient removes a client from a group.
func (s *Service) RemoveGroupClient(ctx context.Context, group, username string) error {
	_, err := s.runner.Run(ctx, []string{"removeGroupClient", group, username}, "")
	return err
}

// splitLines turns mosquitto_ctrl's newline-separated listings into a slice,
// dropping empty lines.
func splitLines(out string) []string {
	var items []string
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			items = append(items, line)
		}
	}
	return items
}

// rawOrMessage returns out as raw JSON when it parses, otherwise wraps the
// trimmed text in a message object.
func rawOrMessage(out string) json.RawMessage {
	trimmed := strings.TrimSpace(out)
	if json.Valid([]byte(trimmed)) && trimmed != "" {
		return json.RawMessage(trimmed)
	}
	wrapped, _ := json.Marshal(map[string]string{"message": trimmed})
	return wrapped
}
