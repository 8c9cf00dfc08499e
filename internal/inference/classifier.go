package inference

import (
	"context"
	"sort"
	"strings"

	"github.com/medlit/orchestrator/internal/core"
)

// Prediction is the per-article classification outcome.
type Prediction struct {
	Domains []string           `json:"predicted_domains"`
	Scores  map[string]float64 `json:"confidence_scores"`
}

// Classifier is the model-inference collaborator. The orchestration engine
// treats it as opaque: any error it returns is isolated to the item that
// produced it.
type Classifier interface {
	Classify(ctx context.Context, modelID string, item core.BatchItem, threshold float64) (Prediction, error)
}

// domainKeywords drives the built-in keyword classifier. One entry per
// medical domain the literature datasets label.
var domainKeywords = map[string][]string{
	"cardiology":         {"heart", "cardiac", "cardiovascular", "coronary", "artery", "hypertension"},
	"neurology":          {"brain", "neural", "neurological", "cognitive", "memory"},
	"oncology":           {"cancer", "tumor", "malignant", "chemotherapy", "radiation"},
	"respiratory":        {"lung", "respiratory", "pulmonary", "asthma", "breathing"},
	"endocrinology":      {"diabetes", "hormone", "endocrine", "thyroid", "insulin", "diabetic"},
	"gastroenterology":   {"stomach", "intestine", "liver", "digestive", "gastric"},
	"infectious_disease": {"infection", "virus", "bacteria", "antibiotic", "pathogen"},
	"radiology":          {"imaging", "scan", "x-ray", "mri", "ct"},
	"emergency_medicine": {"emergency", "trauma", "acute", "critical", "urgent"},
	"surgery":            {"surgical", "operation", "procedure", "incision", "operative"},
}

// KeywordClassifier scores each domain by keyword occurrence in the title
// and abstract. It stands in for the trained-model collaborator and keeps
// the engine exercisable end to end without any ML dependency.
type KeywordClassifier struct{}

func NewKeywordClassifier() *KeywordClassifier {
	return &KeywordClassifier{}
}

func (c *KeywordClassifier) Classify(ctx context.Context, modelID string, item core.BatchItem, threshold float64) (Prediction, error) {
	if err := ctx.Err(); err != nil {
		return Prediction{}, err
	}
	if strings.TrimSpace(item.Title) == "" && strings.TrimSpace(item.Abstract) == "" {
		return Prediction{}, core.Fatal("empty title and abstract")
	}

	text := strings.ToLower(item.Title + " " + item.Abstract)

	scores := make(map[string]float64, len(domainKeywords))
	for domain, keywords := range domainKeywords {
		score := 0.1
		if strings.Contains(text, domain) {
			score += 0.5
		}
		matches := 0
		for _, keyword := range keywords {
			if strings.Contains(text, keyword) {
				matches++
			}
		}
		if matches > 0 {
			score += min(0.7, float64(matches)*0.3)
		}
		scores[domain] = min(1.0, score)
	}

	var predicted []string
	confidence := make(map[string]float64)
	for domain, score := range scores {
		if score >= threshold {
			predicted = append(predicted, domain)
			confidence[domain] = score
		}
	}

	// Nothing met the threshold: fall back to the best domain when it shows
	// at least some relevance, mirroring how single best-guess answers beat
	// empty ones for dashboard users.
	if len(predicted) == 0 {
		best, bestScore := "", 0.0
		for domain, score := range scores {
			if score > bestScore {
				best, bestScore = domain, score
			}
		}
		if bestScore > 0.2 {
			predicted = append(predicted, best)
			confidence[best] = bestScore
		}
	}

	sort.Strings(predicted)
	return Prediction{Domains: predicted, Scores: confidence}, nil
}
