package preprocessing

import (
	"fmt"
)

// LabelEncoder maps class names to integer codes in a fixed order.
type LabelEncoder struct {
	ClassToInt map[string]int
}

// NewFixedLabelEncoder returns an encoder whose codes follow the order of
// classes.
func NewFixedLabelEncoder(classes []string) *LabelEncoder {
	le := &LabelEncoder{ClassToInt: make(map[string]int, len(classes))}
	for i, class := range classes {
		le.ClassToInt[class] = i
	}
	return le
}

func (le *LabelEncoder) Transform(labels []string) ([]int, error) {
	result := make([]int, len(labels))
	for i, label := range labels {
		val, ok := le.ClassToInt[label]
		if !ok {
			return nil, fmt.Errorf("unknown label: %s", label)
		}
		result[i] = val
	}
	return result, nil
}
