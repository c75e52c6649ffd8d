package version

import (
	"fmt"
	"runtime/debug"
)

// Swappable for testing
var readBuildInfo = debug.ReadBuildInfo

// BuildVersion returns the module version, or "dev" if unavailable.
func BuildVersion() string {
	info, ok := readBuildInfo()
	if !ok {
		return "dev"
	}
	if info.Main.Version == "" || info.Main.Version == "(devel)" {
		return "dev"
	}
	return info.Main.Version
}

// UserAgent sent with every metadata request. The operator contact is
// appended when configured so federation operators can reach whoever
// polls their feed.
func UserAgent(contactName, contactEmail string) string {
	ua := "metarefresh/" + BuildVersion()
	switch {
	case contactName != "" && contactEmail != "":
		return fmt.Sprintf("%s (run by %s <%s>)", ua, contactName, contactEmail)
	case contactEmail != "":
		return fmt.Sprintf("%s (run by <%s>)", ua, contactEmail)
	case contactName != "":
		return fmt.Sprintf("%s (run by %s)", ua, contactName)
	}
	return ua
}
