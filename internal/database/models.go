package database

import "time"

// LimitedResource is a quota record in the owner hierarchy. System-wide
// defaults are stored with OwnerType "system" and OwnerID 0.
// At most one row may exist per (owner_type, owner_id, resource_type).
type LimitedResource struct {
	ID           uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	OwnerType    string    `gorm:"not null;uniqueIndex:idx_owner_resource" json:"owner_type"`
	OwnerID      uint      `gorm:"not null;uniqueIndex:idx_owner_resource" json:"owner_id"`
	ResourceType string    `gorm:"not null;uniqueIndex:idx_owner_resource" json:"resource_type"`
	LimitType    string    `gorm:"not null" json:"limit_type"` // control_plane | data_plane
	Unit         string    `gorm:"not null" json:"unit"`       // count | dollar | gb
	MaxValue     float64   `gorm:"not null" json:"max_value"`
	CurrentValue *float64  `json:"current_value,omitempty"`
	LimitedBy    string    `gorm:"not null;default:manual" json:"limited_by"` // manual | product | default
	SetBy        string    `json:"set_by"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// User is a tenancy root. IsAdmin (system admin) and TeamID are mutually
// exclusive; the roles package enforces this.
type User struct {
	ID           uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Email        string    `gorm:"uniqueIndex;not null;size:256" json:"email"`
	PasswordHash string    `gorm:"not null" json:"-"`
	IsAdmin      bool      `gorm:"not null;default:false" json:"is_admin"`
	Role         string    `gorm:"not null;default:user" json:"role"`
	TeamID       *uint     `gorm:"index" json:"team_id"`
	IsActive     bool      `gorm:"not null;default:true" json:"is_active"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type Team struct {
	ID         uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	Name       string `gorm:"uniqueIndex;not null" json:"name"`
	AdminEmail string `gorm:"not null" json:"admin_email"`
	IsActive   bool   `gorm:"not null;default:true" json:"is_active"`
	IsTrial    bool   `gorm:"not null;default:false" json:"is_trial"`
	// ForceUserKeys hides team-owned keys from regular members' listings.
	ForceUserKeys bool      `gorm:"not null;default:false" json:"force_user_keys"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// Product is a named bundle of default limit values attachable to teams.
type Product struct {
	ID                uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Name              string    `gorm:"uniqueIndex;not null" json:"name"`
	MaxBudgetPerKey   float64   `gorm:"not null;default:0" json:"max_budget_per_key"`
	RPMPerKey         float64   `gorm:"not null;default:0" json:"rpm_per_key"`
	VectorDBCount     float64   `gorm:"not null;default:0" json:"vector_db_count"`
	VectorDBStorageGB float64   `gorm:"not null;default:0" json:"vector_db_storage_gb"`
	UserCount         float64   `gorm:"not null;default:0" json:"user_count"`
	KeyCount          float64   `gorm:"not null;default:0" json:"key_count"`
	CreatedAt         time.Time `gorm:"autoCreateTime" json:"created_at"`
}

type TeamProduct struct {
	TeamID    uint `gorm:"primaryKey" json:"team_id"`
	ProductID uint `gorm:"primaryKey" json:"product_id"`
}

// Region is an available provisioning target: a Postgres server reachable
// with admin credentials plus a gateway API endpoint. Dedicated regions are
// restricted to associated teams via RegionTeam.
type Region struct {
	ID                    uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Name                  string    `gorm:"uniqueIndex;not null" json:"name"`
	PostgresHost          string    `gorm:"not null" json:"postgres_host"`
	PostgresPort          int       `gorm:"not null;default:5432" json:"postgres_port"`
	PostgresAdminUser     string    `gorm:"not null" json:"-"`
	PostgresAdminPassword string    `json:"-"` // Fernet-encrypted
	GatewayAPIURL         string    `gorm:"not null" json:"litellm_api_url"`
	GatewayAPIKey         string    `json:"-"` // Fernet-encrypted
	IsActive              bool      `gorm:"not null;default:true" json:"is_active"`
	IsDedicated           bool      `gorm:"not null;default:false" json:"is_dedicated"`
	CreatedAt             time.Time `gorm:"autoCreateTime" json:"created_at"`
}

type RegionTeam struct {
	RegionID uint `gorm:"primaryKey" json:"region_id"`
	TeamID   uint `gorm:"primaryKey" json:"team_id"`
}

// PrivateAIKey is one provisioned resource pair: an isolated database plus
// a gateway token. Owned by exactly one of OwnerID (a user) or TeamID.
type PrivateAIKey struct {
	ID            uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Name          string    `gorm:"not null" json:"name"`
	DatabaseName  string    `gorm:"uniqueIndex;not null" json:"database_name"`
	Host          string    `gorm:"not null" json:"host"`
	Username      string    `gorm:"not null" json:"username"`
	Password      string    `json:"-"` // Fernet-encrypted
	GatewayToken  string    `json:"-"` // Fernet-encrypted
	GatewayAPIURL string    `json:"litellm_api_url"`
	RegionID      uint      `gorm:"not null;index" json:"region_id"`
	OwnerID       *uint     `gorm:"index" json:"owner_id"`
	TeamID        *uint     `gorm:"index" json:"team_id"`
	CachedSpend   float64   `gorm:"not null;default:0" json:"cached_spend"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type Setting struct {
	Key       string    `gorm:"primaryKey" json:"key"`
	Value     string    `gorm:"not null" json:"value"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
