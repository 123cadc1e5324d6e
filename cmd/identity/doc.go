// Package identity implements tasker's user accounts and authentication flows.
//
// It owns the user store (Postgres and in-memory), the registration and login
// service, and the Principal attached to authenticated requests.
package identity
