package store

// Role is a user's authorization level.
type Role string

const (
	RoleUser  Role = "User"
	RoleAdmin Role = "Admin"
)

// Satisfies reports whether r grants access that requires role required.
// Admins satisfy every requirement.
func (r Role) Satisfies(required Role) bool {
	return r == required || r == RoleAdmin
}

// User is a registered account. Credentials live in a separate collection
// so they never travel with the user document.
type User struct {
	ID    string `bson:"_id" json:"_id"`
	Email string `bson:"email" json:"email"`
	Role  Role   `bson:"role" json:"role"`
}

// UserAuth holds the password hash for a user.
type UserAuth struct {
	UserID       string `bson:"user_id"`
	PasswordHash string `bson:"password_hash"`
}

// Post is a piece of user-authored content.
type Post struct {
	ID      string `bson:"_id" json:"_id"`
	Title   string `bson:"title" json:"title"`
	Content string `bson:"content" json:"content"`
	UserID  string `bson:"user_id" json:"user_id"`
}
