package cluster

import (
	"strconv"
	"strings"
)

const (
	// CurrentVersion is the product version of this build. It is recorded in
	// node metadata and remote manifests so that version changes can be
	// detected across restarts.
	CurrentVersion = "1.2.0"
)

// MajorOf returns the major component of a product version string
// ("1.2.0" -> 1). Unparseable versions yield 0.
func MajorOf(version string) int {
	head, _, _ := strings.Cut(version, ".")
	major, err := strconv.Atoi(head)
	if err != nil {
		return 0
	}
	return major
}
