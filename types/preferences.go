package types

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"errors"
)

// Preferences holds the user's notification settings.
type Preferences struct {
	EmailNotifications *EmailNotifications `json:"emailNotifications,omitempty" bson:"emailNotifications,omitempty"`
}

// EmailNotifications selects which optional emails an account receives.
// A nil field in an update leaves the stored value in place.
type EmailNotifications struct {
	News       *bool `json:"news" bson:"news,omitempty"`
	Promotions *bool `json:"promotions" bson:"promotions,omitempty"`
}

// DefaultPreferences returns the settings a new account starts with.
func DefaultPreferences() Preferences {
	news, promotions := true, true
	return Preferences{
		EmailNotifications: &EmailNotifications{News: &news, Promotions: &promotions},
	}
}

// Merge applies update on top of p one level deep: every field set in
// update replaces the stored value, and fields left nil keep theirs.
func (p Preferences) Merge(update Preferences) Preferences {
	merged := p.Clone()
	if update.EmailNotifications == nil {
		return merged
	}
	if merged.EmailNotifications == nil {
		merged.EmailNotifications = &EmailNotifications{}
	}
	if v := update.EmailNotifications.News; v != nil {
		merged.EmailNotifications.News = boolPtr(*v)
	}
	if v := update.EmailNotifications.Promotions; v != nil {
		merged.EmailNotifications.Promotions = boolPtr(*v)
	}
	return merged
}

// Clone returns a deep copy of p.
func (p Preferences) Clone() Preferences {
	if p.EmailNotifications == nil {
		return Preferences{}
	}
	en := EmailNotifications{}
	if v := p.EmailNotifications.News; v != nil {
		en.News = boolPtr(*v)
	}
	if v := p.EmailNotifications.Promotions; v != nil {
		en.Promotions = boolPtr(*v)
	}
	return Preferences{EmailNotifications: &en}
}

// UnmarshalJSON rejects keys other than the known settings.
func (p *Preferences) UnmarshalJSON(data []byte) error {
	type plain Preferences
	var decoded plain
	if err := decodeStrict(data, &decoded); err != nil {
		return err
	}
	*p = Preferences(decoded)
	return nil
}

// UnmarshalJSON rejects keys other than news and promotions.
func (e *EmailNotifications) UnmarshalJSON(data []byte) error {
	type plain EmailNotifications
	var decoded plain
	if err := decodeStrict(data, &decoded); err != nil {
		return err
	}
	*e = EmailNotifications(decoded)
	return nil
}

// Value stores preferences as a jsonb document.
func (p Preferences) Value() (driver.Value, error) {
	return json.Marshal(p)
}

// Scan decodes a jsonb column.
func (p *Preferences) Scan(src any) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*p = Preferences{}
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return errors.New("preferences: unsupported column type")
	}
	var decoded Preferences
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	*p = decoded
	return nil
}

func decodeStrict(data []byte, dst any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func boolPtr(v bool) *bool {
	return &v
}
