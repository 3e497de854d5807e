package store

import "time"

// Collection names used by the application.
const (
	CollectionProfiles          = "profiles"
	CollectionMedications       = "medications"
	CollectionScans             = "scans"
	CollectionChatHistory       = "chat_history"
	CollectionInsurancePolicies = "insurance_policies"
	CollectionUsers             = "users"
	CollectionSession           = "session"
)

// CurrentSessionID is the fixed key of the singleton session record.
const CurrentSessionID = "current"

type UserRole string

const RolePatient UserRole = "PATIENT"

// Record is a schema-less collection entry as stored on the medium.
type Record map[string]any

type HistoryRecord struct {
	ID              string   `json:"id"`
	Date            string   `json:"date"`
	HospitalName    string   `json:"hospitalName"`
	Summary         string   `json:"summary"`
	AbnormalValues  []string `json:"abnormalValues,omitempty"`
	LifestyleImpact string   `json:"lifestyleImpact,omitempty"`
}

type Profile struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Age        int             `json:"age"`
	Gender     string          `json:"gender"`
	Country    string          `json:"country"`
	Conditions []string        `json:"conditions"`
	Role       UserRole        `json:"role"`
	IsPrimary  bool            `json:"isPrimary"`
	IsGuest    bool            `json:"isGuest,omitempty"`
	History    []HistoryRecord `json:"history"`
	BioAge     *int            `json:"bioAge,omitempty"`
}

// Session points at the active profile. Its absence means logged out.
type Session struct {
	ID        string `json:"id"`
	ProfileID string `json:"profileId"`
}

// User links an external identity (email) to exactly one profile.
type User struct {
	Email     string `json:"email"`
	ProfileID string `json:"profileId"`
}

type Medication struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Dosage          string `json:"dosage"`
	Frequency       string `json:"frequency"`
	Time            string `json:"time"`
	LastTaken       string `json:"lastTaken,omitempty"`
	LifestyleCaveat string `json:"lifestyleCaveat,omitempty"`
}

type InsurancePolicy struct {
	ID                   string   `json:"id"`
	Provider             string   `json:"provider"`
	PlanName             string   `json:"planName"`
	CoverageSummary      string   `json:"coverageSummary"`
	PreventativeBenefits []string `json:"preventativeBenefits"`
	LongevityScore       int      `json:"longevityScore"`
}

// Source is a citation attached to a model reply.
type Source struct {
	Title string `json:"title,omitempty"`
	URI   string `json:"uri,omitempty"`
}

type ChatMessage struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"` // "user" or "model"
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	IsRedFlag bool      `json:"isRedFlag,omitempty"`
	Sources   []Source  `json:"sources,omitempty"`
}
