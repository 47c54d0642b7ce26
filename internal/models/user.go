package models

// User is the identity returned by the Rec login endpoint.
type User struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	RealName string `json:"realName,omitempty"`
	Email    string `json:"email,omitempty"`
}
