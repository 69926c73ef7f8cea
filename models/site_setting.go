package models

// SiteSetting is a runtime-editable key/value. Value is stored as text and interpreted by DataType.
type SiteSetting struct {
	Key         string `gorm:"primaryKey;type:varchar(128)" json:"key"`
	Value       string `gorm:"type:text;not null" json:"value"`
	DataType    string `gorm:"type:varchar(16);not null;default:'str'" json:"data_type"` // int, float, bool, str, json
	Category    string `gorm:"type:varchar(64);index" json:"category"`
	Description string `gorm:"type:text" json:"description,omitempty"`
	Timestamps
}
