package server

import (
	"trustline/internal/domain"
)

// Request payloads

type CreateDIDRequest struct {
	Identifier string `json:"identifier"`
}

type UpdateDIDRequest struct {
	Identifier string `json:"identifier"`
}

type AssignRoleRequest struct {
	Subject string `json:"subject"`
	Role    string `json:"role"`
}

type IssueCredentialRequest struct {
	Subject   string `json:"subject"`
	Role      string `json:"role"`
	Attribute int64  `json:"attribute"`
}

type VerifyRoleRequest struct {
	Subject string `json:"subject"`
	Issuer  string `json:"issuer"`
	Role    string `json:"role"`
}

type VerifyAttributeRequest struct {
	Subject   string `json:"subject"`
	Issuer    string `json:"issuer"`
	Attribute int64  `json:"attribute"`
}

type PresentCredentialRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

type SaveProfileRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

type VerifyMetadataRequest struct {
	Hash string `json:"hash"`
}

type CreateTaskRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Priority    string `json:"priority" enum:"low,medium,high"`
	DueDate     string `json:"due_date" format:"date-time"`
	Assignee    string `json:"assignee"`
}

type ReassignTaskRequest struct {
	Assignee string `json:"assignee"`
}

type VerifyOwnershipRequest struct {
	User string `json:"user"`
}

type CreateAPIKeyRequest struct {
	ActorID string `json:"actor_id"`
	Name    string `json:"name,omitempty"`
}

// Response payloads

type RoleHistoryResponse struct {
	Principal string   `json:"principal"`
	History   []string `json:"history"`
}

type VerificationResponse struct {
	Status bool `json:"status"`
}

type PresentationResponse struct {
	Hash string `json:"hash"`
}

type APIKeyCreatedResponse struct {
	ID      string `json:"id"`
	ActorID string `json:"actor_id"`
	Name    string `json:"name,omitempty"`
	Key     string `json:"key"`
}

type APIKeyResponse struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

func apiKeyResponse(k domain.APIKey) APIKeyResponse {
	return APIKeyResponse{ID: k.ID, ActorID: k.ActorID, Name: k.Name, CreatedAt: k.CreatedAt}
}

func mapAPIKeys(items []domain.APIKey) []APIKeyResponse {
	out := make([]APIKeyResponse, 0, len(items))
	for _, k := range items {
		out = append(out, apiKeyResponse(k))
	}
	return out
}
