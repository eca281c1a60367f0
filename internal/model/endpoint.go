package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// StringList is a JSON-encoded string array column.
type StringList []string

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		l = StringList{}
	}
	return json.Marshal(l)
}

func (l *StringList) Scan(src any) error {
	return scanJSON(src, l)
}

func (l StringList) Contains(s string) bool {
	for _, v := range l {
		if v == s {
			return true
		}
	}
	return false
}

// HeaderMap is a JSON-encoded string map column (custom delivery headers).
type HeaderMap map[string]string

func (m HeaderMap) Value() (driver.Value, error) {
	if m == nil {
		m = HeaderMap{}
	}
	return json.Marshal(m)
}

func (m *HeaderMap) Scan(src any) error {
	return scanJSON(src, m)
}

func scanJSON(src, dst any) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, dst)
	case string:
		return json.Unmarshal([]byte(v), dst)
	default:
		return fmt.Errorf("unsupported column type %T", src)
	}
}

// EndpointConfig is a tenant-registered delivery target persisted in the
// webhook_endpoints table. Secret is write-only: JSON marshaling skips it,
// and only the create/rotate flows hand it back to the caller.
type EndpointConfig struct {
	ID               string     `db:"id" json:"id"`
	TenantID         string     `db:"tenant_id" json:"tenant_id"`
	URL              string     `db:"url" json:"url"`
	Secret           string     `db:"secret" json:"-"`
	Enabled          bool       `db:"enabled" json:"enabled"`
	SubscribedEvents StringList `db:"subscribed_events" json:"subscribed_events"`
	CustomHeaders    HeaderMap  `db:"custom_headers" json:"custom_headers,omitempty"`
	TimeoutMs        int        `db:"timeout_ms" json:"timeout_ms"`
	CreatedBy        *string    `db:"created_by" json:"created_by,omitempty"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at" json:"updated_at"`
}

// Timeout returns the per-delivery deadline, falling back to def when the
// stored value is unset or nonsense.
func (e EndpointConfig) Timeout(def time.Duration) time.Duration {
	if e.TimeoutMs <= 0 {
		return def
	}
	return time.Duration(e.TimeoutMs) * time.Millisecond
}

// EndpointUpdate carries the partial-update fields; nil means "leave as is".
// The secret is deliberately absent: it changes only through rotation.
type EndpointUpdate struct {
	URL              *string    `json:"url"`
	Enabled          *bool      `json:"enabled"`
	SubscribedEvents StringList `json:"subscribed_events"`
	CustomHeaders    HeaderMap  `json:"custom_headers"`
	TimeoutMs        *int       `json:"timeout_ms"`
}

func (u EndpointUpdate) Empty() bool {
	return u.URL == nil && u.Enabled == nil && u.SubscribedEvents == nil &&
		u.CustomHeaders == nil && u.TimeoutMs == nil
}
