package policy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/agentpilot/agentpilot/internal/store"
	"github.com/agentpilot/agentpilot/internal/tools"
)

// Store is the slice of the repository the guard reads and writes.
type Store interface {
	GetPermission(ctx context.Context, channelType, channelID, userID, domain string) (*store.PermissionRule, error)
	AppendAudit(ctx context.Context, e *store.AuditEntry) error
}

// Config tunes the guard.
type Config struct {
	DefaultLevel   Level
	DestructiveOps []string
	// RequiredLevels overrides entries of DefaultRequiredLevels.
	RequiredLevels map[string]Level
}

// Decision is the outcome of an allowed Check.
type Decision struct {
	Allowed              bool
	ConfirmationRequired bool
	ConfirmationMessage  string
	Level                Level
	Required             Level
}

// Guard gates action dispatch on per-identity permission levels.
type Guard struct {
	store       Store
	defaultLvl  Level
	required    map[string]Level
	destructive map[string]struct{}
}

// NewGuard creates a guard. A nil DestructiveOps uses send_email,
// delete_file and shell_exec.
func NewGuard(st Store, cfg Config) *Guard {
	required := make(map[string]Level, len(DefaultRequiredLevels)+len(cfg.RequiredLevels))
	for d, l := range DefaultRequiredLevels {
		required[d] = l
	}
	for d, l := range cfg.RequiredLevels {
		required[d] = l
	}
	ops := cfg.DestructiveOps
	if ops == nil {
		ops = []string{"send_email", "delete_file", "shell_exec"}
	}
	destructive := make(map[string]struct{}, len(ops))
	for _, op := range ops {
		destructive[op] = struct{}{}
	}
	return &Guard{store: st, defaultLvl: cfg.DefaultLevel, required: required, destructive: destructive}
}

// RequiredLevel returns the level a domain needs. Unknown domains need Admin.
func (g *Guard) RequiredLevel(domain string) Level {
	if l, ok := g.required[domain]; ok {
		return l
	}
	return Admin
}

// IsDestructive reports whether an operation always needs confirmation.
func (g *Guard) IsDestructive(operation string) bool {
	_, ok := g.destructive[operation]
	return ok
}

// EffectiveLevel resolves the identity's level for a domain: the user rule,
// then the channel rule, then the configured default.
func (g *Guard) EffectiveLevel(ctx context.Context, channelType, channelID, userID, domain string) (Level, error) {
	rule, err := g.store.GetPermission(ctx, channelType, channelID, userID, domain)
	if errors.Is(err, store.ErrNotFound) {
		return g.defaultLvl, nil
	}
	if err != nil {
		return 0, fmt.Errorf("resolve permission: %w", err)
	}
	return Level(rule.Level), nil
}

// Check evaluates req. It returns *PermissionDeniedError when the level is
// too low; otherwise the decision says whether confirmation is needed.
func (g *Guard) Check(ctx context.Context, req *tools.ActionRequest) (Decision, error) {
	required := g.RequiredLevel(req.Domain)
	current, err := g.EffectiveLevel(ctx, req.ChannelType, req.ChannelID, req.UserID, req.Domain)
	if err != nil {
		return Decision{}, err
	}
	if current < required {
		return Decision{Level: current, Required: required}, &PermissionDeniedError{
			Action:   req.Action(),
			Required: required,
			Current:  current,
		}
	}
	d := Decision{Allowed: true, Level: current, Required: required}
	if g.IsDestructive(req.Operation) {
		d.ConfirmationRequired = true
		d.ConfirmationMessage = fmt.Sprintf("Action %q on %s requires your confirmation. Reply \"yes\" to proceed.", req.Operation, req.Domain)
	}
	return d, nil
}

// LogAction appends one audit entry for req, stamped with the identity's
// current level.
func (g *Guard) LogAction(ctx context.Context, req *tools.ActionRequest, output any, confirmationRequired, confirmed bool) error {
	level, err := g.EffectiveLevel(ctx, req.ChannelType, req.ChannelID, req.UserID, req.Domain)
	if err != nil {
		return err
	}
	entry := &store.AuditEntry{
		SessionID:            req.SessionID,
		ChannelType:          req.ChannelType,
		ChannelID:            req.ChannelID,
		UserID:               req.UserID,
		Domain:               req.Domain,
		Operation:            req.Operation,
		Input:                marshalJSON(req.Params),
		Output:               marshalJSON(output),
		PermissionLevel:      int(level),
		ConfirmationRequired: confirmationRequired,
		Confirmed:            confirmed,
	}
	if err := g.store.AppendAudit(ctx, entry); err != nil {
		return fmt.Errorf("append audit: %w", err)
	}
	return nil
}

func marshalJSON(v any) json.RawMessage {
	switch t := v.(type) {
	case nil:
		return nil
	case json.RawMessage:
		return t
	}
	b, err := json.Marshal(v)
	if err != nil {
		b, _ = json.Marshal(map[string]string{"error": err.Error()})
	}
	return b
}
