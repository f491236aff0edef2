package auth

// Credentials represents user login credentials.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// contextKey scopes values this package stores in request contexts.
type contextKey string

// UserContextKey is the key under which the authenticated user id is
// stored in the request context.
const UserContextKey contextKey = "user"
