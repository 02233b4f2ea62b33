package devapi

import "time"

// Config holds the development backend's settings.
type Config struct {
	Secret                   string        // HS256 signing secret for access tokens
	TokenTTL                 time.Duration // access token lifetime
	SeedFile                 string        // optional seed override; embedded seed when empty
	InitialAdminPasswordPath string        // where to write a generated admin password (if empty -> log output)
	BootstrapAdmin           bool          // create an admin when the seed has none
}
