package audit

import (
	"context"
	"time"
)

// Event records a security-relevant action. It is transport-agnostic so the
// same value can be logged, published to a topic or kept in memory for tests.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Action    Action    `json:"action"`
	Subject   string    `json:"subject,omitempty"`
	BPN       string    `json:"bpn,omitempty"`
	Target    string    `json:"target,omitempty"`
	Decision  string    `json:"decision,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
}

type Action string

const (
	ActionAuthFailed           Action = "auth_failed"
	ActionWalletCreated        Action = "wallet_created"
	ActionWalletDeleted        Action = "wallet_deleted"
	ActionCredentialStored     Action = "credential_stored"
	ActionCredentialIssued     Action = "credential_issued"
	ActionCredentialVerified   Action = "credential_verified"
	ActionPresentationCreated  Action = "presentation_created"
	ActionPresentationVerified Action = "presentation_verified"
	ActionDIDServiceChanged    Action = "did_service_changed"
	ActionPartnerDataPulled    Action = "partner_data_pulled"
)

const (
	DecisionGranted = "granted"
	DecisionDenied  = "denied"
	DecisionValid   = "valid"
	DecisionInvalid = "invalid"
)

// Sink persists or forwards events.
type Sink interface {
	Append(ctx context.Context, event Event) error
}

// Emitter is satisfied by publisher.Publisher.
type Emitter interface {
	Emit(ctx context.Context, event Event) error
}
