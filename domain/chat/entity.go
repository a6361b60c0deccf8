package chat

import "time"

// User is a record of the directus_users collection.
type User struct {
	ID           string    `json:"id" gorm:"primaryKey;type:text"`
	FirstName    string    `json:"first_name" gorm:"not null;type:text"`
	LastName     string    `json:"last_name,omitempty" gorm:"type:text"`
	Email        string    `json:"email,omitempty" gorm:"uniqueIndex;type:text"`
	PasswordHash string    `json:"-" gorm:"not null;type:text"`
	CreatedAt    time.Time `json:"-"`
	UpdatedAt    time.Time `json:"-"`
}

// TableName returns the table name for the User entity.
func (User) TableName() string {
	return "directus_users"
}

// DisplayName returns "first last", or just the first name when last is unset.
func (u User) DisplayName() string {
	if u.LastName == "" {
		return u.FirstName
	}
	return u.FirstName + " " + u.LastName
}

// Message is a record of the messages collection.
type Message struct {
	ID            string    `json:"id" gorm:"primaryKey;type:text"`
	Text          string    `json:"text" gorm:"not null;type:text"`
	DateCreated   time.Time `json:"date_created" gorm:"not null;index"`
	UserCreatedID string    `json:"-" gorm:"column:user_created;not null;index;type:text"`
	UserCreated   *User     `json:"user_created,omitempty" gorm:"-"`
}

// TableName returns the table name for the Message entity.
func (Message) TableName() string {
	return "messages"
}

// Author returns the display name of the message author, or "unknown".
func (m Message) Author() string {
	if m.UserCreated == nil || m.UserCreated.FirstName == "" {
		return "unknown"
	}
	return m.UserCreated.DisplayName()
}

// TokenPair represents access and refresh tokens.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	// Expires is the access token lifetime in milliseconds.
	Expires int64 `json:"expires"`
}

// Claims represents JWT claims of an access token.
type Claims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
}
