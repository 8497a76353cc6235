// Package version provides build and version information for Sentient Bridge.
package version

// Version and Commit can be overridden at build time using:
//
//	go build -ldflags "-X github.com/AaronLay10/SentientBridge/internal/version.Version=x.y.z -X github.com/AaronLay10/SentientBridge/internal/version.Commit=abc123"
var (
	Version = "0.1.0"
	Commit  = ""
)

// String returns the version with the commit appended when known.
func String() string {
	if Commit == "" {
		return Version
	}
	return Version + "+" + Commit
}
