package common

// These variables are injected at build time using -ldflags
var (
	SUMMARY = "development"
	BRANCH  = "unknown"
	VERSION = "dev"
	COMMIT  = "unknown"
)

func GetVersion() string {
	if VERSION == "dev" {
		return "1.0.0-dev"
	}
	return VERSION
}

// UserAgent identifies the bridge in HTTP requests to the router. ASUS
// firmware only hands out login tokens to user agents carrying the
// "asusrouter--" prefix, so the version string rides behind it.
func UserAgent() string {
	return "asusrouter--DUTUtil-" + GetVersion()
}
