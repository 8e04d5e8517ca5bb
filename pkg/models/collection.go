package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"
)

// Collection is a source of licensed content from one distributor.
// Its Protocol selects the vendor adapter type; its integration settings
// carry the adapter-specific credentials and endpoints.
type Collection struct {
	ID   uint   `gorm:"primaryKey" json:"id"`
	Name string `gorm:"uniqueIndex;not null;size:255" json:"name"`

	// Protocol names the vendor adapter implementation for this collection
	// (e.g. "OPDS for Distributors"). Must be registered with the
	// circulation protocol registry.
	Protocol string `gorm:"not null;size:128" json:"protocol"`

	// DataSource is the default data source name for license pools in this
	// collection.
	DataSource string `gorm:"size:128" json:"data_source"`

	// SettingsJSON holds the vendor integration settings as a JSON object.
	// Adapters decode it into their own typed settings via DecodeSettings.
	SettingsJSON string `gorm:"column:settings;type:text" json:"-"`

	Pools []*LicensePool `gorm:"foreignKey:CollectionID" json:"pools,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName returns the table name for Collection.
func (Collection) TableName() string {
	return "collections"
}

// Settings returns the integration settings as a generic map.
func (c *Collection) Settings() (map[string]any, error) {
	if c.SettingsJSON == "" {
		return map[string]any{}, nil
	}
	var settings map[string]any
	if err := json.Unmarshal([]byte(c.SettingsJSON), &settings); err != nil {
		return nil, fmt.Errorf("invalid integration settings for collection %q: %w", c.Name, err)
	}
	return settings, nil
}

// SetSettings serializes the given settings map into SettingsJSON.
func (c *Collection) SetSettings(settings map[string]any) error {
	data, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to serialize integration settings: %w", err)
	}
	c.SettingsJSON = string(data)
	return nil
}

// DecodeSettings decodes the integration settings into a typed settings
// struct using mapstructure tags. Unknown keys are ignored so adapters can
// share a collection's settings blob with the import side.
func (c *Collection) DecodeSettings(out any) error {
	settings, err := c.Settings()
	if err != nil {
		return err
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return fmt.Errorf("failed to build settings decoder: %w", err)
	}
	if err := decoder.Decode(settings); err != nil {
		return fmt.Errorf("invalid integration settings for collection %q: %w", c.Name, err)
	}
	return nil
}
