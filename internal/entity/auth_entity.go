package entity

// Identity is the verified user behind a token. It is established once at
// connect time and never re-derived during a session.
type Identity struct {
	UserId   string `json:"userId"`
	Username string `json:"username"`
}
