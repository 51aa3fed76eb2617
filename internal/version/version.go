// ABOUTME: Build and product identification
// ABOUTME: Version is overridden at link time with -ldflags "-X"
package version

// Version is the release version, "dev" for local builds.
var Version = "dev"

const (
	Product      = "netaudio"
	Manufacturer = "Resonate Protocol"
)

// String returns "product version".
func String() string {
	return Product + " " + Version
}
