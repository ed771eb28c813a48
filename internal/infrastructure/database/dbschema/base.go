package dbschema

import "time"

// BaseModel is the shared surrogate key + timestamps for every table.
type BaseModel struct {
	ID        uint      `gorm:"primaryKey"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}
