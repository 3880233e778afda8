package domain

// User is a resource owner as seen by the authorization server.
// The record is owned by the user store; the server only reads it.
type User struct {
	Username     string   `json:"username" bson:"_id" yaml:"username"`
	PasswordHash string   `json:"-" bson:"password_hash" yaml:"password_hash"`
	Authorities  []string `json:"authorities" bson:"authorities" yaml:"authorities"`
}
