package entity

// User is a registered account. Guests never get a User row; they only
// exist as an Identity in the session store.
type User struct {
	ID           string `json:"id"`
	Username     string `json:"username"`
	PasswordHash string `json:"-"`
}

func (that *User) Identity() Identity {
	return Identity{ID: that.ID, Username: that.Username}
}
