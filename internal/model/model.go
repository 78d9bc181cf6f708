package model

import "time"

type User struct {
	ID                 int64
	Username           string
	PasswordHash       string
	FullName           string
	Email              *string
	Role               string
	SchoolID           string
	Plan               *string
	SubscriptionStatus string
	SubscriptionExpiry *time.Time
	Suspended          bool
	TokenVersion       int
	RefreshTokenHash   *string
	RefreshTokenExpiry *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// UsageCounter rows are unique per (user, period, feature) and only ever
// incremented. Period is a UTC calendar day, "2006-01-02".
type UsageCounter struct {
	UserID    int64
	Period    string
	Feature   string
	Count     int
	UpdatedAt time.Time
}
