package authz

// Verifier turns a bearer token into Claims. JWTManager is the only
// implementation; the interface exists so middleware does not need to know
// about RSA keys, and so tests can substitute a fake.
type Verifier interface {
	ValidateAccessToken(tokenString string) (*Claims, error)
}
