package evaluation

import (
	"fmt"
	"math"
	"strings"
)

type ClassificationMetrics struct {
	Accuracy          float64              `json:"accuracy"`
	BalancedAccuracy  float64              `json:"balanced_accuracy"`
	MacroPrecision    float64              `json:"macro_precision"`
	MacroRecall       float64              `json:"macro_recall"`
	MacroF1           float64              `json:"macro_f1"`
	WeightedPrecision float64              `json:"weighted_precision"`
	WeightedRecall    float64              `json:"weighted_recall"`
	WeightedF1        float64              `json:"weighted_f1"`
	PerClassMetrics   map[int]ClassMetrics `json:"per_class_metrics"`
	ConfusionMatrix   [][]int              `json:"confusion_matrix"`
	ClassSupport      map[int]int          `json:"class_support"`
	NumSamples        int                  `json:"num_samples"`
	NumClasses        int                  `json:"num_classes"`
}

type ClassMetrics struct {
	Precision   float64 `json:"precision"`
	Recall      float64 `json:"recall"`
	F1Score     float64 `json:"f1_score"`
	Specificity float64 `json:"specificity"`
	Support     int     `json:"support"`
}

func CalculateMetrics(yTrue, yPred []int, classes []int) *ClassificationMetrics {
	if len(yTrue) != len(yPred) || len(yTrue) == 0 || len(classes) == 0 {
		return nil
	}

	numSamples := len(yTrue)
	numClasses := len(classes)

	confusionMatrix := buildConfusionMatrix(yTrue, yPred, classes)

	classSupport := make(map[int]int)
	for _, class := range yTrue {
		classSupport[class]++
	}

	perClassMetrics := make(map[int]ClassMetrics)
	var macroPrec, macroRec, macroF1 float64
	var weightedPrec, weightedRec, weightedF1 float64
	totalSupport := 0

	for i, class := range classes {
		tp := confusionMatrix[i][i]
		fp := 0
		fn := 0
		tn := 0

		for j := range classes {
			if j != i {
				fp += confusionMatrix[j][i]
				fn += confusionMatrix[i][j]
			}
		}

		for j := range classes {
			for k := range classes {
				if j != i && k != i {
					tn += confusionMatrix[j][k]
				}
			}
		}

		precision := safeDivide(float64(tp), float64(tp+fp))
		recall := safeDivide(float64(tp), float64(tp+fn))
		f1 := safeDivide(2*precision*recall, precision+recall)
		specificity := safeDivide(float64(tn), float64(tn+fp))

		support := classSupport[class]
		perClassMetrics[class] = ClassMetrics{
			Precision:   precision,
			Recall:      recall,
			F1Score:     f1,
			Specificity: specificity,
			Support:     support,
		}

		macroPrec += precision
		macroRec += recall
		macroF1 += f1

		weightedPrec += precision * float64(support)
		weightedRec += recall * float64(support)
		weightedF1 += f1 * float64(support)
		totalSupport += support
	}

	macroPrec /= float64(numClasses)
	macroRec /= float64(numClasses)
	macroF1 /= float64(numClasses)

	weightedPrec = safeDivide(weightedPrec, float64(totalSupport))
	weightedRec = safeDivide(weightedRec, float64(totalSupport))
	weightedF1 = safeDivide(weightedF1, float64(totalSupport))

	correct := 0
	for i, pred := range yPred {
		if pred == yTrue[i] {
			correct++
		}
	}
	accuracy := float64(correct) / float64(numSamples)

	return &ClassificationMetrics{
		Accuracy:          accuracy,
		BalancedAccuracy:  macroRec,
		MacroPrecision:    macroPrec,
		MacroRecall:       macroRec,
		MacroF1:           macroF1,
		WeightedPrecision: weightedPrec,
		WeightedRecall:    weightedRec,
		WeightedF1:        weightedF1,
		PerClassMetrics:   perClassMetrics,
		ConfusionMatrix:   confusionMatrix,
		ClassSupport:      classSupport,
		NumSamples:        numSamples,
		NumClasses:        numClasses,
	}
}

func buildConfusionMatrix(yTrue, yPred []int, classes []int) [][]int {
	numClasses := len(classes)
	matrix := make([][]int, numClasses)
	for i := range matrix {
		matrix[i] = make([]int, numClasses)
	}

	classToIdx := make(map[int]int)
	for i, class := range classes {
		classToIdx[class] = i
	}

	for i := range yTrue {
		trueIdx, trueOk := classToIdx[yTrue[i]]
		predIdx, predOk := classToIdx[yPred[i]]
		if trueOk && predOk {
			matrix[trueIdx][predIdx]++
		}
	}

	return matrix
}

func safeDivide(numerator, denominator float64) float64 {
	if denominator == 0 {
		return 0.0
	}
	result := numerator / denominator
	if math.IsNaN(result) || math.IsInf(result, 0) {
		return 0.0
	}
	return result
}

// ClassReport is one line of a Report.
type ClassReport struct {
	Label     string  `json:"label"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1Score   float64 `json:"f1_score"`
	Support   int     `json:"support"`
}

// Report is the holdout evaluation stored with a trained bundle.
type Report struct {
	Accuracy    float64       `json:"accuracy"`
	Classes     []ClassReport `json:"classes"`
	MacroAvg    ClassReport   `json:"macro_avg"`
	WeightedAvg ClassReport   `json:"weighted_avg"`
	Confusion   [][]int       `json:"confusion_matrix"`
	Samples     int           `json:"samples"`
	CVScores    []float64     `json:"cv_scores,omitempty"`
	CVMean      float64       `json:"cv_mean,omitempty"`
	CVStd       float64       `json:"cv_std,omitempty"`
}

// NewReport names the classes of m; names[i] is the label of class code i.
func NewReport(m *ClassificationMetrics, classes []int, names []string) *Report {
	r := &Report{
		Accuracy:  m.Accuracy,
		Confusion: m.ConfusionMatrix,
		Samples:   m.NumSamples,
	}

	for _, class := range classes {
		label := fmt.Sprint(class)
		if class >= 0 && class < len(names) {
			label = names[class]
		}
		cm := m.PerClassMetrics[class]
		r.Classes = append(r.Classes, ClassReport{
			Label:     label,
			Precision: cm.Precision,
			Recall:    cm.Recall,
			F1Score:   cm.F1Score,
			Support:   cm.Support,
		})
	}

	r.MacroAvg = ClassReport{Label: "macro avg", Precision: m.MacroPrecision, Recall: m.MacroRecall, F1Score: m.MacroF1, Support: m.NumSamples}
	r.WeightedAvg = ClassReport{Label: "weighted avg", Precision: m.WeightedPrecision, Recall: m.WeightedRecall, F1Score: m.WeightedF1, Support: m.NumSamples}
	return r
}

// String renders the report as a classification table.
func (r *Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%14s %10s %10s %10s %10s\n\n", "", "precision", "recall", "f1-score", "support")
	for _, c := range r.Classes {
		writeLine(&b, c)
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "%14s %10s %10s %10.2f %10d\n", "accuracy", "", "", r.Accuracy, r.Samples)
	writeLine(&b, r.MacroAvg)
	writeLine(&b, r.WeightedAvg)
	if len(r.CVScores) > 0 {
		fmt.Fprintf(&b, "\n%d-fold CV accuracy: %.4f ± %.4f\n", len(r.CVScores), r.CVMean, r.CVStd)
	}
	return b.String()
}

func writeLine(b *strings.Builder, c ClassReport) {
	fmt.Fprintf(b, "%14s %10.2f %10.2f %10.2f %10d\n", c.Label, c.Precision, c.Recall, c.F1Score, c.Support)
}
