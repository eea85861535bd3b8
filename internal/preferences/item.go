package preferences

import (
	"strings"
	"time"
)

// Well-known local storage keys.
const (
	KeyAdminPassword     = "adminPassword"
	KeyEnabledEncounters = "enabledEncounters"
)

// LocalStorageItem is one opaque key/value pair of the local storage analogue.
type LocalStorageItem struct {
	Key       string    `gorm:"column:item_key;primaryKey;size:190;not null"`
	Value     string    `gorm:"column:item_value;type:text;not null;default:''"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing local storage.
func (LocalStorageItem) TableName() string {
	return "local_storage_items"
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}
