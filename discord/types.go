package discord

import (
	"fmt"
	"net/http"
)

// MetadataType is the comparison Discord applies between a role requirement
// and a user's metadata value.
type MetadataType int

const (
	IntegerLessThanOrEqual     MetadataType = 1
	IntegerGreaterThanOrEqual  MetadataType = 2
	IntegerEqual               MetadataType = 3
	IntegerNotEqual            MetadataType = 4
	DatetimeLessThanOrEqual    MetadataType = 5
	DatetimeGreaterThanOrEqual MetadataType = 6
	BooleanEqual               MetadataType = 7
	BooleanNotEqual            MetadataType = 8
)

// MetadataField is one application role-connection metadata record.
type MetadataField struct {
	Type        MetadataType `json:"type"`
	Key         string       `json:"key"`
	Name        string       `json:"name"`
	Description string       `json:"description"`
}

// MetadataRecords maps metadata keys to their string-encoded values for one user.
type MetadataRecords map[string]string

// RoleConnection is the body of a role-connection update.
type RoleConnection struct {
	PlatformName     string          `json:"platform_name,omitempty"`
	PlatformUsername string          `json:"platform_username,omitempty"`
	Metadata         MetadataRecords `json:"metadata,omitempty"`
}

// User is the subset of the Discord user object the bridge logs.
type User struct {
	ID         string `json:"id"`
	Username   string `json:"username"`
	GlobalName string `json:"global_name"`
}

// APIError is a non-2xx response from the Discord REST API.
type APIError struct {
	Op     string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("discord: %s: %d %s", e.Op, e.Status, http.StatusText(e.Status))
	}
	return fmt.Sprintf("discord: %s: %d %s: %s", e.Op, e.Status, http.StatusText(e.Status), e.Body)
}
