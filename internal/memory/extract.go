package memory

import "strings"

// FactCandidate is one (subject, predicate, object) tuple produced by an
// extraction step, with its raw confidence before clamping.
type FactCandidate struct {
	Subject    string
	Predicate  string
	Object     string
	Confidence float64
}

// Extractor produces candidate triples from free text. It is an injected
// strategy: implementations are expected to be fast, synchronous, in-process
// functions with no side effects. Returning no candidates is not an error.
type Extractor func(text string, participants []string) ([]FactCandidate, error)

// relationVerbs are the predicates the heuristic extractor recognizes.
var relationVerbs = map[string]bool{
	"is":        true,
	"was":       true,
	"has":       true,
	"knows":     true,
	"trusts":    true,
	"fears":     true,
	"loves":     true,
	"hates":     true,
	"owns":      true,
	"serves":    true,
	"leads":     true,
	"betrayed":  true,
	"protects":  true,
	"remembers": true,
}

const heuristicConfidence = 0.5

// HeuristicExtractor is the built-in default extractor. It scans each
// sentence for the first recognized relation verb and emits a single
// (before, verb, after) triple. It is deliberately naive; callers wanting
// real extraction inject their own Extractor.
func HeuristicExtractor(text string, participants []string) ([]FactCandidate, error) {
	var out []FactCandidate
	for _, sentence := range splitSentences(text) {
		words := strings.Fields(sentence)
		for i := 1; i < len(words)-1; i++ {
			if !relationVerbs[strings.ToLower(words[i])] {
				continue
			}
			out = append(out, FactCandidate{
				Subject:    strings.Join(words[:i], " "),
				Predicate:  words[i],
				Object:     strings.Join(words[i+1:], " "),
				Confidence: heuristicConfidence,
			})
			break
		}
	}
	return out, nil
}

func splitSentences(text string) []string {
	var sentences []string
	for _, part := range strings.FieldsFunc(text, func(r rune) bool {
		return r == '.' || r == '!' || r == '?' || r == ';' || r == '\n'
	}) {
		part = strings.TrimSpace(part)
		if part != "" {
			sentences = append(sentences, part)
		}
	}
	return sentences
}
