package domain

import dErrors "certledger/pkg/domain-errors"

// Role is the caller role asserted by the identity provider.
// Invariant: the value must be one of the supported roles.
//
// Usage: construct via ParseRole at trust boundaries; direct casting bypasses
// validation.
type Role string

const (
	RoleValidator      Role = "validator"
	RoleApprover       Role = "approver"
	RoleDepartmentHead Role = "department_head"
	RoleRegistrar      Role = "registrar"
	RoleSuperAdmin     Role = "super_admin"
	RoleIssuer         Role = "issuer"
	RoleHolder         Role = "holder"
)

var validRoles = map[Role]bool{
	RoleValidator:      true,
	RoleApprover:       true,
	RoleDepartmentHead: true,
	RoleRegistrar:      true,
	RoleSuperAdmin:     true,
	RoleIssuer:         true,
	RoleHolder:         true,
}

// ParseRole constructs a Role from external input.
//
// Errors: returns CodeInvalidInput when the value is empty or unsupported.
func ParseRole(s string) (Role, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "role cannot be empty")
	}
	r := Role(s)
	if !r.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "invalid role")
	}
	return r, nil
}

func (r Role) IsValid() bool { return validRoles[r] }

func (r Role) String() string { return string(r) }

// IsAuthority reports whether the role may initiate a revocation.
func (r Role) IsAuthority() bool {
	switch r {
	case RoleApprover, RoleDepartmentHead, RoleRegistrar, RoleSuperAdmin:
		return true
	}
	return false
}

// Actor is the caller identity the core consumes.
type Actor struct {
	ID   ActorID
	Role Role
}

// IsZero reports whether no identity was attached.
func (a Actor) IsZero() bool { return a.ID == "" }

// Require fails with CodeForbidden unless the actor holds one of roles.
func (a Actor) Require(action string, roles ...Role) error {
	if a.IsZero() {
		return dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	for _, r := range roles {
		if a.Role == r {
			return nil
		}
	}
	return dErrors.Newf(dErrors.CodeForbidden, "role %q may not %s", a.Role, action)
}

// SystemActor attributes automatic transitions such as expiry.
func SystemActor() Actor { return Actor{ID: "system"} }
