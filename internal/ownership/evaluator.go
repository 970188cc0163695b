package ownership

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aegis-platform/aegis/internal/catalog"
	"github.com/aegis-platform/aegis/internal/shared"
)

// Evaluator answers contextual ownership questions. Scopes nest: owning a
// record satisfies "team", and a team match satisfies "department".
type Evaluator struct {
	rules    Rules
	provider Provider
	logger   *slog.Logger
}

// NewEvaluator builds Evaluator instance.
func NewEvaluator(rules Rules, provider Provider, logger *slog.Logger) *Evaluator {
	if rules == nil {
		rules = DefaultRules()
	}
	return &Evaluator{rules: rules, provider: provider, logger: logger}
}

// Rule returns the ownership rule for a resource type.
func (e *Evaluator) Rule(resource string) (Rule, bool) {
	rule, ok := e.rules[resource]
	return rule, ok
}

// Resolve decides whether principalID stands in the given context to the
// record. "any" always passes; the scoped contexts fail closed: a resource
// with no ownership rule, or a record that cannot be found, denies.
func (e *Evaluator) Resolve(ctx context.Context, principalID int64, resource string, resourceID int64, scope string) (bool, error) {
	switch scope {
	case catalog.ContextAny:
		return true, nil
	case catalog.ContextOwn, catalog.ContextTeam, catalog.ContextDepartment:
	default:
		return false, nil
	}

	rule, ok := e.rules[resource]
	if !ok {
		e.debug("no ownership rule", resource)
		return false, nil
	}

	if rule.Check != nil {
		owns, err := rule.Check(ctx, principalID, resourceID)
		if err != nil {
			return false, err
		}
		if owns || scope == catalog.ContextOwn {
			return owns, nil
		}
		// A failed custom check still leaves team/department reachable
		// through the owner column when the rule has one.
		if rule.Table == "" || rule.OwnerField == "" {
			return false, nil
		}
	}

	ownerID, err := e.provider.OwnerID(ctx, rule, resourceID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if ownerID == principalID {
		return true, nil
	}
	if scope == catalog.ContextOwn {
		return false, nil
	}

	sameTeam, err := e.provider.SameTeam(ctx, principalID, ownerID)
	if err != nil {
		return false, err
	}
	if sameTeam {
		return true, nil
	}
	if scope == catalog.ContextTeam {
		return false, nil
	}

	return e.provider.SameDepartment(ctx, principalID, ownerID)
}

// Ownership levels, strongest first.
const (
	LevelOwner            = "owner"
	LevelTeamMember       = "team_member"
	LevelDepartmentMember = "department_member"
	LevelCollaborator     = "collaborator"
)

// Level classifies how the principal relates to the record: owner, member of
// the owner's team, member of the owner's department, or a plain
// collaborator. Records without a rule or an owner classify as collaborator.
func (e *Evaluator) Level(ctx context.Context, principalID int64, resource string, resourceID int64) (string, error) {
	rule, ok := e.rules[resource]
	if !ok || rule.Table == "" || rule.OwnerField == "" {
		return LevelCollaborator, nil
	}
	ownerID, err := e.provider.OwnerID(ctx, rule, resourceID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return LevelCollaborator, nil
		}
		return "", err
	}
	if ownerID == principalID {
		return LevelOwner, nil
	}
	sameTeam, err := e.provider.SameTeam(ctx, principalID, ownerID)
	if err != nil {
		return "", err
	}
	if sameTeam {
		return LevelTeamMember, nil
	}
	sameDept, err := e.provider.SameDepartment(ctx, principalID, ownerID)
	if err != nil {
		return "", err
	}
	if sameDept {
		return LevelDepartmentMember, nil
	}
	return LevelCollaborator, nil
}

type transferProvider interface {
	Transfer(ctx context.Context, rule Rule, resourceID, newOwnerID int64) error
}

// Transfer moves a record to a new owner. Only the current owner may
// transfer, and only resources with an owner column support it.
func (e *Evaluator) Transfer(ctx context.Context, principalID int64, resource string, resourceID, newOwnerID int64) error {
	rule, ok := e.rules[resource]
	if !ok || rule.Table == "" || rule.OwnerField == "" {
		return fmt.Errorf("ownership: %s is not transferable: %w", resource, shared.ErrValidation)
	}
	tp, ok := e.provider.(transferProvider)
	if !ok {
		return fmt.Errorf("ownership: provider cannot transfer: %w", shared.ErrValidation)
	}
	owns, err := e.Resolve(ctx, principalID, resource, resourceID, catalog.ContextOwn)
	if err != nil {
		return err
	}
	if !owns {
		return fmt.Errorf("ownership: principal %d does not own %s %d: %w", principalID, resource, resourceID, shared.ErrValidation)
	}
	return tp.Transfer(ctx, rule, resourceID, newOwnerID)
}

func (e *Evaluator) debug(msg, resource string) {
	if e.logger != nil {
		e.logger.Debug(msg, slog.String("resource", resource))
	}
}
