package models

import "time"

// CredentialType identifies what a credential authenticates against.
type CredentialType string

const (
	CredentialTypeAnthropic  CredentialType = "ANTHROPIC"
	CredentialTypeOpenAI     CredentialType = "OPENAI"
	CredentialTypeGemini     CredentialType = "GEMINI"
	CredentialTypeScreenshot CredentialType = "SCREENSHOT"
	CredentialTypeRowStore   CredentialType = "ROW_STORE"
)

// Credential is a user secret. Value is the encrypted form and is never logged.
type Credential struct {
	ID        string         `json:"id"`
	UserID    string         `json:"user_id"    validate:"required"`
	Name      string         `json:"name"       validate:"required,min=1"`
	Type      CredentialType `json:"type"       validate:"required"`
	Value     string         `json:"-"`
	CreatedAt time.Time      `json:"created_at"`
}
