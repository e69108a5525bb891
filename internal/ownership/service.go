// Package ownership answers one question, "may this principal touch this
// package", and manages the records the answer is derived from: the owner,
// the collaborator set, and trusted-publisher rules for federated identities.
package ownership

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/atoll-registry/atoll/internal/common"
	"github.com/atoll-registry/atoll/internal/identity"
	"github.com/atoll-registry/atoll/pkg/types"
)

// Service evaluates publish and yank authority and manages collaborator and
// trusted-publisher records. Authorization checks run against the caller's
// transaction so a claim decision stays consistent with the commit that
// follows it.
type Service struct {
	db     *common.Database
	logger zerolog.Logger
}

// NewService creates an ownership service.
func NewService(db *common.Database, logger zerolog.Logger) *Service {
	return &Service{
		db:     db,
		logger: logger.With().Str("component", "ownership").Logger(),
	}
}

// Decision is the outcome of a successful authorization.
type Decision struct {
	// Claim is set when the package does not exist yet. The publish that
	// carries this decision creates the package and makes the principal
	// its owner.
	Claim bool

	// Owner is the current owner when the package already exists.
	Owner string
}

// CanPublish decides whether principal may publish a version of the named
// package. An absent package is a claim and is always granted; otherwise the
// principal must be owner, collaborator, or a federated identity matching a
// trusted-publisher rule.
func (s *Service) CanPublish(tx *gorm.DB, principal *identity.Principal, name string) (*Decision, *types.RegistryError) {
	if !principal.HasScope(types.ScopePublish) {
		return nil, types.ErrForbidden("insufficient-scope", "credential does not grant the publish scope")
	}
	return s.authorize(tx, principal, name, true)
}

// CanYank decides whether principal may yank a version of the named package.
// The rules match CanPublish except that the package must already exist.
func (s *Service) CanYank(tx *gorm.DB, principal *identity.Principal, name string) *types.RegistryError {
	if !principal.HasScope(types.ScopeYank) {
		return types.ErrForbidden("insufficient-scope", "credential does not grant the yank scope")
	}
	_, rerr := s.authorize(tx, principal, name, false)
	return rerr
}

func (s *Service) authorize(tx *gorm.DB, principal *identity.Principal, name string, claimAllowed bool) (*Decision, *types.RegistryError) {
	var pkg types.Package
	if err := tx.Where("name = ?", name).First(&pkg).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			if claimAllowed {
				return &Decision{Claim: true}, nil
			}
			return nil, types.ErrPackageNotFound(name)
		}
		return nil, types.ErrInternal(fmt.Errorf("loading package: %w", err))
	}

	if pkg.Owner == principal.ID {
		return &Decision{Owner: pkg.Owner}, nil
	}

	var collaborators int64
	if err := tx.Model(&types.Collaborator{}).
		Where("package_name = ? AND principal = ?", name, principal.ID).
		Count(&collaborators).Error; err != nil {
		return nil, types.ErrInternal(fmt.Errorf("checking collaborators: %w", err))
	}
	if collaborators > 0 {
		return &Decision{Owner: pkg.Owner}, nil
	}

	if principal.Kind == identity.KindFederated && principal.Claims != nil {
		matched, err := s.matchTrustedRule(tx, name, principal.Claims)
		if err != nil {
			return nil, types.ErrInternal(fmt.Errorf("matching trusted publishers: %w", err))
		}
		if matched {
			return &Decision{Owner: pkg.Owner}, nil
		}
		return nil, types.ErrForbidden("no-matching-trusted-publisher",
			fmt.Sprintf("no trusted publisher rule on %q matches %s", name, principal.Claims.Repository))
	}

	return nil, types.ErrForbidden("not-owner",
		fmt.Sprintf("principal is not an owner or collaborator of %q", name))
}

func (s *Service) matchTrustedRule(tx *gorm.DB, name string, claims *identity.FederatedClaims) (bool, error) {
	var rules []types.TrustedPublisher
	if err := tx.Where("package_name = ? AND provider = ? AND repository = ?",
		name, claims.Provider, claims.Repository).Find(&rules).Error; err != nil {
		return false, err
	}

	for _, rule := range rules {
		if rule.Workflow != "" && !workflowMatches(rule.Workflow, claims.Workflow) {
			continue
		}
		if rule.Environment != "" && rule.Environment != claims.Environment {
			continue
		}
		return true, nil
	}
	return false, nil
}

// workflowMatches compares workflow references by the workflow file's base
// name. Rules store a repository-relative path such as
// ".github/workflows/release.yml" while provider claims carry the long form
// "owner/repo/.github/workflows/release.yml@refs/heads/main".
func workflowMatches(rule, claim string) bool {
	base := workflowBaseName(rule)
	return base != "" && base == workflowBaseName(claim)
}

func workflowBaseName(ref string) string {
	if i := strings.IndexByte(ref, '@'); i >= 0 {
		ref = ref[:i]
	}
	if ref == "" {
		return ""
	}
	return path.Base(ref)
}

// EstablishInitialOwnership records the claiming principal as owner inside
// the claim's transaction. A federated claimant's repository becomes the
// package's first trusted-publisher rule so later workflow runs keep
// publishing without a stored secret.
func (s *Service) EstablishInitialOwnership(tx *gorm.DB, principal *identity.Principal, name string) error {
	owner := &types.Collaborator{
		PackageName: name,
		Principal:   principal.ID,
		Role:        types.RoleOwner,
		AddedBy:     principal.ID,
	}
	if err := tx.Create(owner).Error; err != nil {
		return fmt.Errorf("recording owner: %w", err)
	}

	if principal.Kind != identity.KindFederated || principal.Claims == nil {
		return nil
	}

	rule := &types.TrustedPublisher{
		PackageName: name,
		Provider:    principal.Claims.Provider,
		Repository:  principal.Claims.Repository,
		CreatedBy:   principal.ID,
	}
	if err := tx.Create(rule).Error; err != nil {
		return fmt.Errorf("recording implicit trusted publisher: %w", err)
	}

	s.logger.Info().
		Str("package", name).
		Str("repository", principal.Claims.Repository).
		Msg("implicit trusted publisher recorded")
	return nil
}

// requireOwner loads the package and verifies actor holds an owner role on
// it. Collaborator and trusted-publisher mutations are owner-only.
func (s *Service) requireOwner(tx *gorm.DB, actor *identity.Principal, name string) (*types.Package, *types.RegistryError) {
	var pkg types.Package
	if err := tx.Where("name = ?", name).First(&pkg).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, types.ErrPackageNotFound(name)
		}
		return nil, types.ErrInternal(fmt.Errorf("loading package: %w", err))
	}
	if pkg.Owner == actor.ID {
		return &pkg, nil
	}

	var owners int64
	if err := tx.Model(&types.Collaborator{}).
		Where("package_name = ? AND principal = ? AND role = ?", name, actor.ID, types.RoleOwner).
		Count(&owners).Error; err != nil {
		return nil, types.ErrInternal(fmt.Errorf("checking ownership: %w", err))
	}
	if owners == 0 {
		return nil, types.ErrForbidden("not-owner",
			fmt.Sprintf("only an owner of %q may manage its access", name))
	}
	return &pkg, nil
}

// ListCollaborators returns every collaborator record for the package,
// owner row included, oldest first.
func (s *Service) ListCollaborators(ctx context.Context, name string) ([]types.Collaborator, *types.RegistryError) {
	var pkg types.Package
	if err := s.db.WithContext(ctx).Where("name = ?", name).First(&pkg).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, types.ErrPackageNotFound(name)
		}
		return nil, types.ErrInternal(fmt.Errorf("loading package: %w", err))
	}

	var collaborators []types.Collaborator
	if err := s.db.WithContext(ctx).
		Where("package_name = ?", name).
		Order("created_at ASC").
		Find(&collaborators).Error; err != nil {
		return nil, types.ErrInternal(fmt.Errorf("listing collaborators: %w", err))
	}
	return collaborators, nil
}

// AddCollaborator grants the target principal the given role on the package.
// Adding an existing collaborator updates the role in place.
func (s *Service) AddCollaborator(ctx context.Context, actor *identity.Principal, name, target, role string) (*types.Collaborator, *types.RegistryError) {
	if role == "" {
		role = types.RoleCollaborator
	}
	if role != types.RoleOwner && role != types.RoleCollaborator {
		return nil, types.ErrInvalidRequest(fmt.Sprintf("unknown role %q", role))
	}
	if target == "" {
		return nil, types.ErrInvalidRequest("collaborator principal must not be empty")
	}

	var record *types.Collaborator
	var rerr *types.RegistryError
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, rerr = s.requireOwner(tx, actor, name); rerr != nil {
			return rerr
		}

		var existing types.Collaborator
		err := tx.Where("package_name = ? AND principal = ?", name, target).First(&existing).Error
		switch {
		case err == nil:
			existing.Role = role
			existing.AddedBy = actor.ID
			if err := tx.Save(&existing).Error; err != nil {
				return fmt.Errorf("updating collaborator: %w", err)
			}
			record = &existing
		case errors.Is(err, gorm.ErrRecordNotFound):
			record = &types.Collaborator{
				PackageName: name,
				Principal:   target,
				Role:        role,
				AddedBy:     actor.ID,
			}
			if err := tx.Create(record).Error; err != nil {
				return fmt.Errorf("creating collaborator: %w", err)
			}
		default:
			return fmt.Errorf("loading collaborator: %w", err)
		}

		return tx.Create(&types.AuditLog{
			PackageName: name,
			Action:      types.ActionAddCollaborator,
			ActorID:     actor.ID,
			ActorKind:   actor.Kind,
			Details:     types.JSONMap{"principal": target, "role": role},
		}).Error
	})
	if rerr != nil {
		return nil, rerr
	}
	if err != nil {
		return nil, types.ErrInternal(err)
	}

	s.logger.Info().
		Str("package", name).
		Str("principal", target).
		Str("role", role).
		Str("added_by", actor.ID).
		Msg("collaborator added")
	return record, nil
}

// RemoveCollaborator revokes the target principal's access. The last owner
// row cannot be removed; transfer ownership first.
func (s *Service) RemoveCollaborator(ctx context.Context, actor *identity.Principal, name, target string) *types.RegistryError {
	var rerr *types.RegistryError
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var pkg *types.Package
		if pkg, rerr = s.requireOwner(tx, actor, name); rerr != nil {
			return rerr
		}

		var existing types.Collaborator
		if err := tx.Where("package_name = ? AND principal = ?", name, target).First(&existing).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				rerr = types.ErrInvalidRequest(fmt.Sprintf("%s is not a collaborator of %q", target, name))
				return rerr
			}
			return fmt.Errorf("loading collaborator: %w", err)
		}

		if existing.Role == types.RoleOwner {
			var owners int64
			if err := tx.Model(&types.Collaborator{}).
				Where("package_name = ? AND role = ?", name, types.RoleOwner).
				Count(&owners).Error; err != nil {
				return fmt.Errorf("counting owners: %w", err)
			}
			if owners <= 1 {
				rerr = types.ErrForbidden("last-owner", "cannot remove the last owner of a package")
				return rerr
			}
		}

		if err := tx.Delete(&existing).Error; err != nil {
			return fmt.Errorf("removing collaborator: %w", err)
		}

		// Keep the denormalized owner column pointing at a live owner row.
		if pkg.Owner == target {
			var successor types.Collaborator
			if err := tx.Where("package_name = ? AND role = ?", name, types.RoleOwner).
				Order("created_at ASC").First(&successor).Error; err != nil {
				return fmt.Errorf("selecting successor owner: %w", err)
			}
			if err := tx.Model(&types.Package{}).Where("name = ?", name).
				Update("owner", successor.Principal).Error; err != nil {
				return fmt.Errorf("transferring ownership: %w", err)
			}
		}

		return tx.Create(&types.AuditLog{
			PackageName: name,
			Action:      types.ActionRemoveCollaborator,
			ActorID:     actor.ID,
			ActorKind:   actor.Kind,
			Details:     types.JSONMap{"principal": target},
		}).Error
	})
	if rerr != nil {
		return rerr
	}
	if err != nil {
		return types.ErrInternal(err)
	}

	s.logger.Info().
		Str("package", name).
		Str("principal", target).
		Str("removed_by", actor.ID).
		Msg("collaborator removed")
	return nil
}

// ListTrustedPublishers returns the package's trusted-publisher rules,
// oldest first.
func (s *Service) ListTrustedPublishers(ctx context.Context, name string) ([]types.TrustedPublisher, *types.RegistryError) {
	var pkg types.Package
	if err := s.db.WithContext(ctx).Where("name = ?", name).First(&pkg).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, types.ErrPackageNotFound(name)
		}
		return nil, types.ErrInternal(fmt.Errorf("loading package: %w", err))
	}

	var rules []types.TrustedPublisher
	if err := s.db.WithContext(ctx).
		Where("package_name = ?", name).
		Order("created_at ASC").
		Find(&rules).Error; err != nil {
		return nil, types.ErrInternal(fmt.Errorf("listing trusted publishers: %w", err))
	}
	return rules, nil
}

// AddTrustedPublisher records a rule permitting federated identities from
// the given repository to publish. Workflow and environment are optional
// pins; empty pins match any value.
func (s *Service) AddTrustedPublisher(ctx context.Context, actor *identity.Principal, name string, rule types.TrustedPublisher) (*types.TrustedPublisher, *types.RegistryError) {
	if rule.Provider == "" {
		rule.Provider = "github"
	}
	if rule.Repository == "" {
		return nil, types.ErrInvalidRequest("trusted publisher repository must not be empty")
	}

	var rerr *types.RegistryError
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, rerr = s.requireOwner(tx, actor, name); rerr != nil {
			return rerr
		}

		rule.ID = uuid.Nil
		rule.PackageName = name
		rule.CreatedBy = actor.ID
		if err := tx.Create(&rule).Error; err != nil {
			if common.IsDuplicateKeyError(err) {
				rerr = types.ErrInvalidRequest("an identical trusted publisher rule already exists")
				return rerr
			}
			return fmt.Errorf("creating trusted publisher: %w", err)
		}

		return tx.Create(&types.AuditLog{
			PackageName: name,
			Action:      types.ActionAddTrustedRule,
			ActorID:     actor.ID,
			ActorKind:   actor.Kind,
			Details: types.JSONMap{
				"provider":    rule.Provider,
				"repository":  rule.Repository,
				"workflow":    rule.Workflow,
				"environment": rule.Environment,
			},
		}).Error
	})
	if rerr != nil {
		return nil, rerr
	}
	if err != nil {
		return nil, types.ErrInternal(err)
	}

	s.logger.Info().
		Str("package", name).
		Str("repository", rule.Repository).
		Str("added_by", actor.ID).
		Msg("trusted publisher rule added")
	return &rule, nil
}

// RemoveTrustedPublisher deletes a rule by ID.
func (s *Service) RemoveTrustedPublisher(ctx context.Context, actor *identity.Principal, name string, ruleID uuid.UUID) *types.RegistryError {
	var rerr *types.RegistryError
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, rerr = s.requireOwner(tx, actor, name); rerr != nil {
			return rerr
		}

		var rule types.TrustedPublisher
		if err := tx.Where("package_name = ? AND id = ?", name, ruleID).First(&rule).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				rerr = types.ErrInvalidRequest("trusted publisher rule not found")
				return rerr
			}
			return fmt.Errorf("loading trusted publisher: %w", err)
		}

		if err := tx.Delete(&rule).Error; err != nil {
			return fmt.Errorf("removing trusted publisher: %w", err)
		}

		return tx.Create(&types.AuditLog{
			PackageName: name,
			Action:      types.ActionRemoveTrustedRule,
			ActorID:     actor.ID,
			ActorKind:   actor.Kind,
			Details: types.JSONMap{
				"provider":   rule.Provider,
				"repository": rule.Repository,
			},
		}).Error
	})
	if rerr != nil {
		return rerr
	}
	if err != nil {
		return types.ErrInternal(err)
	}

	s.logger.Info().
		Str("package", name).
		Str("rule_id", ruleID.String()).
		Str("removed_by", actor.ID).
		Msg("trusted publisher rule removed")
	return nil
}
