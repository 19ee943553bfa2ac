package version

import "fmt"

// set via ldflags
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

var FullVersion = fmt.Sprintf("%s (commit %s, built at %s)", Version, Commit, Date)
