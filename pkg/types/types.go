package types

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// JSONMap is a custom type that can handle JSON serialization for both PostgreSQL and SQLite
type JSONMap map[string]interface{}

// Value implements the driver.Valuer interface for GORM
func (j JSONMap) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// Scan implements the sql.Scanner interface for GORM
func (j *JSONMap) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into JSONMap", value)
	}

	return json.Unmarshal(bytes, j)
}

// Package is one registered plugin, keyed by its normalized name. The
// registry stores metadata and external URLs only; the archive bytes live
// wherever the publisher hosts them.
type Package struct {
	Name        string    `json:"name" gorm:"primaryKey"`
	DisplayName string    `json:"display_name"`
	Game        string    `json:"game" gorm:"index"`
	Description string    `json:"description"`
	License     string    `json:"license,omitempty"`
	Homepage    string    `json:"homepage,omitempty"`
	Repository  string    `json:"repository,omitempty"`
	Authors     []string  `json:"authors,omitempty" gorm:"serializer:json"`
	Keywords    []string  `json:"keywords,omitempty" gorm:"serializer:json"`
	Owner       string    `json:"owner" gorm:"not null;index"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	Versions []Version `json:"-" gorm:"foreignKey:PackageName;references:Name"`
}

// Version is an immutable release of a package. Once committed only the
// yank fields may change.
type Version struct {
	ID          uuid.UUID `json:"id" gorm:"primaryKey"`
	PackageName string    `json:"package" gorm:"not null;uniqueIndex:idx_package_version"`
	Version     string    `json:"version" gorm:"not null;uniqueIndex:idx_package_version"`

	// Manifest is the verbatim accepted registration object, unknown keys
	// included, so old versions round-trip fields this server predates.
	Manifest JSONMap `json:"manifest" gorm:"serializer:json"`

	MinimumAPVersion string `json:"minimum_ap_version" gorm:"not null"`
	MaximumAPVersion string `json:"maximum_ap_version,omitempty"`

	Yanked     bool       `json:"yanked" gorm:"default:false;index"`
	YankReason string     `json:"yank_reason,omitempty"`
	YankedAt   *time.Time `json:"yanked_at,omitempty"`

	PublishedBy string `json:"published_by"`

	// Provenance, populated only for federated publishes.
	SourceRepository string     `json:"source_repository,omitempty"`
	SourceWorkflow   string     `json:"source_workflow,omitempty"`
	SourceCommit     string     `json:"source_commit,omitempty"`
	BuildTime        *time.Time `json:"build_time,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"-"`

	EntryPoints   []EntryPoint   `json:"entry_points" gorm:"foreignKey:VersionID"`
	Distributions []Distribution `json:"distributions" gorm:"foreignKey:VersionID"`
}

// BeforeCreate generates a UUID for the version ID
func (v *Version) BeforeCreate(tx *gorm.DB) error {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	return nil
}

// Distribution kinds.
const (
	KindBinary = "binary"
	KindSource = "source"
)

// URL status values for a distribution.
const (
	URLStatusActive      = "active"
	URLStatusUnreachable = "unreachable"
)

// Distribution is one artifact of one version: an external HTTPS URL plus
// the digest and size the registry verified at registration time.
type Distribution struct {
	ID          uuid.UUID `json:"id" gorm:"primaryKey"`
	VersionID   uuid.UUID `json:"-" gorm:"not null;uniqueIndex:idx_version_filename"`
	PackageName string    `json:"package" gorm:"not null;index"`
	Filename    string    `json:"filename" gorm:"not null;uniqueIndex:idx_version_filename"`
	URL         string    `json:"url" gorm:"not null"`
	SHA256      string    `json:"sha256" gorm:"not null;size:64"`
	Size        int64     `json:"size" gorm:"not null"`
	PlatformTag string    `json:"platform_tag" gorm:"not null;index"`
	Kind        string    `json:"kind" gorm:"not null;default:binary"`

	URLStatus      string     `json:"url_status" gorm:"not null;default:active"`
	LastVerifiedAt *time.Time `json:"last_verified_at,omitempty"`

	CreatedAt time.Time `json:"registered_at"`
}

// BeforeCreate generates a UUID for the distribution ID
func (d *Distribution) BeforeCreate(tx *gorm.DB) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	return nil
}

// EntryPoint is a named identifier a version declares, mapping to an opaque
// target string. The registry indexes the identifier and never resolves the
// target.
type EntryPoint struct {
	ID        uuid.UUID `json:"-" gorm:"primaryKey"`
	VersionID uuid.UUID `json:"-" gorm:"not null;uniqueIndex:idx_version_entrypoint"`
	Name      string    `json:"name" gorm:"not null;uniqueIndex:idx_version_entrypoint;index"`
	Target    string    `json:"target" gorm:"not null"`
}

// BeforeCreate generates a UUID for the entry point ID
func (e *EntryPoint) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}

// Collaborator roles.
const (
	RoleOwner        = "owner"
	RoleCollaborator = "collaborator"
)

// Collaborator binds a principal to a package with a role. The claim
// creates the first RoleOwner row; Package.Owner always names one of the
// current owner rows.
type Collaborator struct {
	ID          uuid.UUID `json:"id" gorm:"primaryKey"`
	PackageName string    `json:"package" gorm:"not null;uniqueIndex:idx_package_principal"`
	Principal   string    `json:"principal" gorm:"not null;uniqueIndex:idx_package_principal"`
	Role        string    `json:"role" gorm:"not null"`
	AddedBy     string    `json:"added_by"`
	CreatedAt   time.Time `json:"added_at"`
}

// BeforeCreate generates a UUID for the collaborator ID
func (c *Collaborator) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

// TrustedPublisher permits federated identities whose claims match the rule
// to publish the package without a stored secret. Empty Workflow and
// Environment match anything.
type TrustedPublisher struct {
	ID          uuid.UUID `json:"id" gorm:"primaryKey"`
	PackageName string    `json:"package" gorm:"not null;uniqueIndex:idx_trusted_rule"`
	Provider    string    `json:"provider" gorm:"not null;uniqueIndex:idx_trusted_rule"`
	Repository  string    `json:"repository" gorm:"not null;uniqueIndex:idx_trusted_rule"`
	Workflow    string    `json:"workflow,omitempty" gorm:"uniqueIndex:idx_trusted_rule"`
	Environment string    `json:"environment,omitempty"`
	CreatedBy   string    `json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
}

// BeforeCreate generates a UUID for the trusted publisher ID
func (t *TrustedPublisher) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}

// Token scopes.
const (
	ScopePublish = "publish"
	ScopeYank    = "yank"
)

// APIToken is a long-lived bearer credential. Only the SHA-256 of the
// secret is stored; the secret itself is shown once at creation.
type APIToken struct {
	ID         uuid.UUID  `json:"id" gorm:"primaryKey"`
	Name       string     `json:"name"`
	TokenHash  string     `json:"-" gorm:"not null;uniqueIndex;size:64"`
	Principal  string     `json:"principal" gorm:"not null;index"`
	Scopes     []string   `json:"scopes" gorm:"serializer:json"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	Revoked    bool       `json:"revoked" gorm:"default:false"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"-"`
}

// BeforeCreate generates a UUID for the token ID
func (t *APIToken) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}

// Audit log actions.
const (
	ActionClaim              = "claim"
	ActionPublish            = "publish"
	ActionYank               = "yank"
	ActionAddCollaborator    = "add_collaborator"
	ActionRemoveCollaborator = "remove_collaborator"
	ActionAddTrustedRule     = "add_trusted_publisher"
	ActionRemoveTrustedRule  = "remove_trusted_publisher"
)

// AuditLog is an append-only record of every mutation.
type AuditLog struct {
	ID          uuid.UUID `json:"id" gorm:"primaryKey"`
	PackageName string    `json:"package" gorm:"not null;index"`
	Action      string    `json:"action" gorm:"not null"`
	Version     string    `json:"version,omitempty"`
	ActorID     string    `json:"actor_id" gorm:"not null"`
	ActorKind   string    `json:"actor_kind"`
	Details     JSONMap   `json:"details,omitempty" gorm:"serializer:json"`

	SourceRepository string `json:"source_repository,omitempty"`
	SourceWorkflow   string `json:"source_workflow,omitempty"`
	SourceCommit     string `json:"source_commit,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// BeforeCreate generates a UUID for the audit log ID
func (a *AuditLog) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}

// PaginationInfo contains pagination metadata
type PaginationInfo struct {
	Page       int   `json:"page"`
	PerPage    int   `json:"per_page"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
}

// PaginatedResponse represents a paginated API response
type PaginatedResponse struct {
	Data       interface{}     `json:"data"`
	Pagination *PaginationInfo `json:"pagination,omitempty"`
}
