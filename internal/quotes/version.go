package quotes

import (
	"fmt"
	"math"
	"strconv"
)

// InitialVersion is assigned to newly created and reissued quotations.
const InitialVersion = "0.1"

// BumpVersion advances a decimal version marker by one tenth. An unparsable
// marker resets to InitialVersion, so corrupted data heals on the next save.
func BumpVersion(version string) string {
	v, err := strconv.ParseFloat(version, 64)
	if err != nil {
		return InitialVersion
	}
	next := math.Round((v+0.1)*10) / 10
	return fmt.Sprintf("%.1f", next)
}

// RequiresComment reports whether a save moving between the two versions must
// carry a change comment. Every version transition does.
func RequiresComment(oldVersion, newVersion string) bool {
	return oldVersion != newVersion
}
