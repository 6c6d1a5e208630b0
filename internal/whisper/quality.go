package whisper

import "strings"

// Quality selects one of the two model tiers the server keeps loaded.
type Quality string

const (
	QualityBase   Quality = "base"
	QualityMedium Quality = "medium"
)

// Qualities lists the tiers in startup order.
var Qualities = []Quality{QualityBase, QualityMedium}

// ParseQuality maps a client-supplied label onto a tier. Only "medium" selects
// the larger model; anything else runs on base.
func ParseQuality(label string) Quality {
	if strings.EqualFold(strings.TrimSpace(label), string(QualityMedium)) {
		return QualityMedium
	}
	return QualityBase
}
