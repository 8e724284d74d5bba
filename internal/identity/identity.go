// Package identity authenticates the owner behind a request and guards admin
// routes.
//
// It provides:
//   - TokenIssuer        issues and verifies HS256 owner tokens
//   - Authenticator      resolves the caller from a bearer token or, in
//     development mode, from the X-Civic-Owner header
//   - RequireOwner       Gin middleware injecting the authenticated owner
//   - RequireAdminSecret Gin middleware checking a bcrypt-hashed admin secret
package identity
