package correlation

import (
	"math"
	"strings"
	"time"

	"github.com/quellhq/quell/internal/core/domain"
)

// temporalDecay returns e^(-dt/window), the exponential proximity score for
// two events dt apart under the given window. Decays to e^-1 at exactly one
// window.
func temporalDecay(dt, window time.Duration) float64 {
	if window <= 0 {
		return 0
	}
	return math.Exp(-dt.Seconds() / window.Seconds())
}

// normalizeText lowercases, strips everything except letters, digits and
// spaces, and collapses runs of whitespace into single spaces.
func normalizeText(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	lastSpace := true
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastSpace = false
		default:
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}

// sequenceSimilarity computes a character-level similarity ratio in [0,1]
// using the length of the longest common subsequence:
// 2*lcs(a,b) / (len(a)+len(b)). Symmetric; identical non-empty strings
// score 1.0.
func sequenceSimilarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	ra, rb := []rune(a), []rune(b)
	// Single-row LCS to keep memory bounded on long descriptions.
	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for i := 1; i <= len(ra); i++ {
		for j := 1; j <= len(rb); j++ {
			if ra[i-1] == rb[j-1] {
				curr[j] = prev[j-1] + 1
			} else if prev[j] >= curr[j-1] {
				curr[j] = prev[j]
			} else {
				curr[j] = curr[j-1]
			}
		}
		prev, curr = curr, prev
	}
	lcs := prev[len(rb)]
	return 2 * float64(lcs) / float64(len(ra)+len(rb))
}

// wordSet tokenises normalized text into a set of words.
func wordSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.Fields(s) {
		set[w] = struct{}{}
	}
	return set
}

// jaccard returns |a ∩ b| / |a ∪ b| for two word sets. Empty sets never
// match.
func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	intersection := 0
	for w := range a {
		if _, ok := b[w]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// textSimilarity blends character-sequence and token-overlap similarity for
// a pair of raw text fields. Returns 0 when either side normalises to empty.
func textSimilarity(a, b string) float64 {
	na, nb := normalizeText(a), normalizeText(b)
	if na == "" || nb == "" {
		return 0
	}
	return 0.4*sequenceSimilarity(na, nb) + 0.6*jaccard(wordSet(na), wordSet(nb))
}

// alertTextSimilarity combines title and description similarity for two
// alerts, weighting titles more heavily.
func alertTextSimilarity(a, b domain.Alert) float64 {
	return 0.6*textSimilarity(a.Title, b.Title) + 0.4*textSimilarity(a.Description, b.Description)
}

// metricCorrelation compares two metric values. Both zero is perfect
// agreement, exactly one zero is total disagreement, otherwise the relative
// difference is scored.
func metricCorrelation(v1, v2 float64) float64 {
	if v1 == 0 && v2 == 0 {
		return 1.0
	}
	if v1 == 0 || v2 == 0 {
		return 0.0
	}
	return 1.0 - math.Abs(v1-v2)/math.Max(math.Abs(v1), math.Abs(v2))
}

// metricValueSimilarity averages per-key correlation over metric keys shared
// by both alerts. Returns 0 when no keys are shared.
func metricValueSimilarity(a, b map[string]float64) float64 {
	shared := 0
	total := 0.0
	for k, v1 := range a {
		if v2, ok := b[k]; ok {
			total += metricCorrelation(v1, v2)
			shared++
		}
	}
	if shared == 0 {
		return 0
	}
	return total / float64(shared)
}

// tagOverlap returns the fraction of tag keys shared between two tag
// mappings, relative to the larger mapping. Empty mappings never overlap.
func tagOverlap(a, b map[string]string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	shared := 0
	for k := range a {
		if _, ok := b[k]; ok {
			shared++
		}
	}
	larger := len(a)
	if len(b) > larger {
		larger = len(b)
	}
	return float64(shared) / float64(larger)
}

// featureVocabulary is the fixed keyword vocabulary for the similarity
// heuristic strategy. Counts of these words, plus severity and category
// indicators, form each alert's feature vector.
var featureVocabulary = []string{
	"error", "timeout", "failed", "failure", "connection",
	"memory", "disk", "cpu", "latency", "refused",
	"unavailable", "slow", "exception", "crash", "leak",
}

// featureVector extracts the fixed feature vector for the similarity
// heuristic: one keyword count per vocabulary entry, followed by a severity
// indicator and a category indicator.
func featureVector(a domain.Alert) []float64 {
	text := normalizeText(a.Title + " " + a.Description)
	words := strings.Fields(text)
	vec := make([]float64, len(featureVocabulary)+2)
	for i, kw := range featureVocabulary {
		count := 0
		for _, w := range words {
			if w == kw {
				count++
			}
		}
		vec[i] = float64(count)
	}
	vec[len(featureVocabulary)] = severityIndicator(a.Severity)
	vec[len(featureVocabulary)+1] = categoryIndicator(a.Category)
	return vec
}

// featureAgreement returns the fraction of vector positions on which two
// feature vectors agree exactly.
func featureAgreement(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	agree := 0
	for i := range a {
		if a[i] == b[i] {
			agree++
		}
	}
	return float64(agree) / float64(len(a))
}

func severityIndicator(s domain.Severity) float64 {
	switch s {
	case domain.SeverityCritical:
		return 5
	case domain.SeverityHigh:
		return 4
	case domain.SeverityMedium:
		return 3
	case domain.SeverityLow:
		return 2
	case domain.SeverityInfo:
		return 1
	default:
		return 0
	}
}

// categoryIndicator hashes the category into a small stable bucket so that
// equal categories agree and differing ones almost always disagree.
func categoryIndicator(category string) float64 {
	if category == "" {
		return 0
	}
	h := uint32(2166136261)
	for i := 0; i < len(category); i++ {
		h ^= uint32(category[i])
		h *= 16777619
	}
	return float64(h%251) + 1
}
