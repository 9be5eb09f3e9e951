package models

// User mirrors the identity table of the external auth service; tokens carry its id.
type User struct {
	ID       int    `json:"id" gorm:"primaryKey;autoIncrement"`
	Username string `json:"username" gorm:"type:varchar(255);not null"`
	Email    string `json:"email" gorm:"type:varchar(255);not null;uniqueIndex"`
	Role     string `json:"role" gorm:"type:varchar(50);default:'patient'"`
}
