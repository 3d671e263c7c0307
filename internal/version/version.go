package version

// Current is the release version of the enricher, without a "v" prefix.
const Current = "0.1.0"

// UserAgent is sent on every outbound provider request.
func UserAgent() string {
	return "home-equity-enricher/" + Current
}
