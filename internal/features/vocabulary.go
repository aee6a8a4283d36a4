package features

import (
	"sort"
	"strings"
)

// Skin texture classes, in the order probabilities are reported.
const (
	LabelDry    = "dry"
	LabelNormal = "normal"
	LabelOily   = "oily"
)

var Classes = []string{LabelDry, LabelNormal, LabelOily}

var labelVocabulary = map[string]string{
	"kering":    LabelDry,
	"normal":    LabelNormal,
	"berminyak": LabelOily,
}

var poreCodes = map[string]float64{
	"small":  0,
	"medium": 1,
	"large":  2,
	"kecil":  0,
	"sedang": 1,
	"besar":  2,
}

// MapLabel translates a dataset label to its class name.
func MapLabel(raw string) (string, bool) {
	label, ok := labelVocabulary[strings.ToLower(strings.TrimSpace(raw))]
	return label, ok
}

// PoreCode returns the numeric code for a pore size category.
func PoreCode(raw string) (float64, bool) {
	code, ok := poreCodes[strings.ToLower(strings.TrimSpace(raw))]
	return code, ok
}

func sourceLabels() []string {
	labels := make([]string, 0, len(labelVocabulary))
	for k := range labelVocabulary {
		labels = append(labels, k)
	}
	sort.Strings(labels)
	return labels
}
