package domain

type DIDRecord struct {
	Principal  string `json:"principal"`
	Identifier string `json:"identifier"`
	CreatedAt  string `json:"created_at" format:"date-time"`
	UpdatedAt  string `json:"updated_at" format:"date-time"`
}

type RoleRecord struct {
	Principal string   `json:"principal"`
	Current   string   `json:"current"`
	History   []string `json:"history"`
}

type Credential struct {
	ID            int64  `json:"id"`
	Issuer        string `json:"issuer"`
	Subject       string `json:"subject"`
	Role          string `json:"role"`
	Attribute     int64  `json:"attribute"`
	FullHash      string `json:"full_hash"`
	RoleHash      string `json:"role_hash"`
	AttributeHash string `json:"attribute_hash"`
	ThresholdHash string `json:"threshold_hash"`
	IssuedAt      string `json:"issued_at" format:"date-time"`
}

const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
)

type Task struct {
	ID          int64   `json:"id"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Priority    string  `json:"priority" enum:"low,medium,high"`
	DueDate     string  `json:"due_date" format:"date-time"`
	Assignee    string  `json:"assignee"`
	Completed   bool    `json:"completed"`
	CompletedAt *string `json:"completed_at,omitempty" format:"date-time"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
}

type Profile struct {
	Principal string `json:"principal"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	CreatedAt string `json:"created_at" format:"date-time"`
	UpdatedAt string `json:"updated_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Kind       string `json:"kind"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
