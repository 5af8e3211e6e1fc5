package models

import (
	"github.com/golang-jwt/jwt/v5"
	"go.mongodb.org/mongo-driver/v2/bson"
)

type EntityType string

const (
	EntityUser       EntityType = "user"
	EntityDepartment EntityType = "department"
	EntityCategory   EntityType = "category"
)

func (e EntityType) Valid() bool {
	switch e {
	case EntityUser, EntityDepartment, EntityCategory:
		return true
	}
	return false
}

type AuditAction string

const (
	AuditGrant         AuditAction = "grant"
	AuditRevoke        AuditAction = "revoke"
	AuditTemplateApply AuditAction = "template_apply"
	AuditAccessDenied  AuditAction = "access_denied"
)

// PermissionGrant is one granted capability for a user, department or
// category. Revoking flips IsActive instead of deleting the row so the
// audit trail keeps pointing at something real.
type PermissionGrant struct {
	ID            bson.ObjectID `bson:"_id,omitempty" json:"id"`
	PermissionKey string        `bson:"permissionKey" json:"permissionKey"`
	Category      string        `bson:"category" json:"category"`
	EntityType    EntityType    `bson:"entityType" json:"entityType"`
	EntityID      bson.ObjectID `bson:"entityId" json:"entityId"`
	GrantedBy     bson.ObjectID `bson:"grantedBy" json:"grantedBy"`
	GrantedAt     int64         `bson:"grantedAt" json:"grantedAt"`
	ExpiresAt     int64         `bson:"expiresAt,omitempty" json:"expiresAt,omitempty"`
	IsActive      bool          `bson:"isActive" json:"isActive"`
	Notes         string        `bson:"notes,omitempty" json:"notes,omitempty"`
}

// Expired reports whether the grant's expiry has passed. A zero ExpiresAt
// means the grant never expires.
func (g *PermissionGrant) Expired(now int64) bool {
	return g.ExpiresAt != 0 && g.ExpiresAt <= now
}

// Effective reports whether the grant currently confers its permission.
// Expiry is evaluated here, at read time; the stored IsActive flag may
// still be true for an expired row.
func (g *PermissionGrant) Effective(now int64) bool {
	return g.IsActive && !g.Expired(now)
}

type PermissionTemplate struct {
	ID             bson.ObjectID `bson:"_id,omitempty" json:"id"`
	Name           string        `bson:"name" json:"name"`
	Description    string        `bson:"description,omitempty" json:"description"`
	PermissionKeys []string      `bson:"permissionKeys" json:"permissionKeys"`
	UsageCount     int64         `bson:"usageCount" json:"usageCount"`
	IsActive       bool          `bson:"isActive" json:"isActive"`
	CreatedAt      int64         `bson:"createdAt" json:"createdAt"`
	UpdatedAt      int64         `bson:"updatedAt" json:"updatedAt"`
}

// AuditLogEntry rows are append-only. Nothing in this service updates or
// deletes one once written.
type AuditLogEntry struct {
	ID            bson.ObjectID `bson:"_id,omitempty" json:"id"`
	Actor         bson.ObjectID `bson:"actor" json:"actor"`
	Action        AuditAction   `bson:"action" json:"action"`
	EntityType    EntityType    `bson:"entityType,omitempty" json:"entityType,omitempty"`
	EntityID      bson.ObjectID `bson:"entityId,omitempty" json:"entityId,omitempty"`
	PermissionKey string        `bson:"permissionKey,omitempty" json:"permissionKey,omitempty"`
	TemplateID    bson.ObjectID `bson:"templateId,omitempty" json:"templateId,omitempty"`
	SourceIP      string        `bson:"sourceIp,omitempty" json:"sourceIp,omitempty"`
	UserAgent     string        `bson:"userAgent,omitempty" json:"userAgent,omitempty"`
	Notes         string        `bson:"notes,omitempty" json:"notes,omitempty"`
	Timestamp     int64         `bson:"timestamp" json:"timestamp"`
}

const (
	RoleAdmin    = "admin"
	RoleManager  = "manager"
	RoleEmployee = "employee"
)

// PortalUser mirrors the slice of the portal user record the resolver
// needs: role and department memberships. Kept current from upstream
// user/department events.
type PortalUser struct {
	ID            bson.ObjectID   `bson:"_id,omitempty" json:"id"`
	Username      string          `bson:"username,omitempty" json:"username"`
	Email         string          `bson:"email,omitempty" json:"email"`
	Role          string          `bson:"role" json:"role"`
	DepartmentIDs []bson.ObjectID `bson:"departmentIds,omitempty" json:"departmentIds,omitempty"`
	IsActive      bool            `bson:"isActive" json:"isActive"`
	CreatedAt     int64           `bson:"createdAt" json:"createdAt"`
	UpdatedAt     int64           `bson:"updatedAt" json:"updatedAt"`
}

func (u *PortalUser) IsAdmin() bool {
	return u.Role == RoleAdmin
}

func (u *PortalUser) MemberOf(departmentID bson.ObjectID) bool {
	for _, id := range u.DepartmentIDs {
		if id == departmentID {
			return true
		}
	}
	return false
}

// EntityContext scopes an authorization check to the object being acted
// on. The calling service resolves which departments/category apply
// before asking the resolver.
type EntityContext struct {
	DepartmentIDs []bson.ObjectID `json:"departmentIds,omitempty"`
	CategoryID    bson.ObjectID   `json:"categoryId,omitempty"`
}

// Decision is the resolver's answer. Deny is a value, not an error.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`
}

type Claims struct {
	jwt.RegisteredClaims
	Id          string
	UserID      string
	Username    string
	Role        string
	Permissions []string
}
