package model

// Invitation is a pending, email-keyed role grant on a resource.
// Primary key (Email, ResourceID); Token is the secondary lookup handle.
type Invitation struct {
	ResourceID    string `json:"resourceId"`
	ResourceType  string `json:"resourceType"`
	Email         string `json:"email"`
	Role          string `json:"role"`
	InviterUserID string `json:"inviterUserId"`
	Token         string `json:"token"`
	Created       int64  `json:"created"`
}

// MemberChangeInfo describes the member update an accepted invitation applies
// to one resource, as computed by that resource type's member-update contract.
type MemberChangeInfo struct {
	ResourceID   string `json:"resourceId"`
	ResourceType string `json:"resourceType"`

	// Changes maps principalId to the granted role ("false" revokes).
	Changes map[string]string `json:"changes"`
}
