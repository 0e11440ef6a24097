package model

// Roles
const (
	RoleStudent = "student"
	RoleManager = "manager"
	RoleAdmin   = "admin"
)

// User is a row of the student directory (users). Owned by user
// management; read-only here.
type User struct {
	UserID             string `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"user_id"`
	Name               string `gorm:"type:varchar(100);not null"                     json:"name"`
	Email              string `gorm:"type:varchar(255);not null"                     json:"email"`
	RegistrationNumber string `gorm:"type:varchar(50)"                               json:"registration_number,omitempty"`
	HostelID           string `gorm:"type:varchar(50)"                               json:"hostel_id,omitempty"`
	Role               string `gorm:"type:varchar(20);not null;default:'student'"    json:"role"`
	MessID             string `gorm:"type:varchar(50)"                               json:"mess_id,omitempty"`
	IsActive           bool   `gorm:"not null;default:true"                          json:"is_active"`
	BaseModel
}

// TableName table name
func (User) TableName() string { return "users" }
