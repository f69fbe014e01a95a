package memory

import (
	"math"
	"sort"
	"strings"
)

// tokenize splits text into lowercase word tokens.
func tokenize(text string) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return !((r >= 'a' && r <= 'z') ||
			(r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') ||
			r == '_' || r == '-' || r == '\'' ||
			r > 127)
	})
	result := make([]string, 0, len(fields))
	for _, f := range fields {
		w := strings.Trim(strings.ToLower(f), "'-")
		if len(w) > 1 {
			result = append(result, w)
		}
	}
	return result
}

var stopwords = toSet(`a about above after again all also am an and any are as at be because been
before being below between both but by can could did do does doing down during each few for from
further had has have having he her here hers him his how i if in into is it its itself just let me
more most my no nor not now of off on once only or other our out over own same she should so some
such than that the their them then there these they this those through to too under until up very
was we were what when where which while who whom why will with would you your yours earl's tell
know like get give want need please thanks thank really much many well`)

var positiveWords = toSet(`good great excellent amazing awesome helpful love like thanks thank
appreciate perfect nice clear useful wonderful fantastic happy glad brilliant impressive insightful
interesting enjoy enjoyed cool`)

var negativeWords = toSet(`bad poor wrong terrible awful useless hate confusing confused unclear
slow broken frustrating frustrated annoying disappointed disappointing unhappy boring incorrect
worse worst fail failed problem issue`)

var politeWords = toSet(`please thank thanks kindly appreciate regards could would`)

var casualWords = toSet(`hey hi yo lol cool gonna wanna yeah yep nope btw awesome`)

func toSet(words string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range strings.Fields(words) {
		set[w] = true
	}
	return set
}

type termCount struct {
	Term  string
	Count int
}

// topTerms ranks non-stopword tokens across texts by frequency.
func topTerms(texts []string, n int) []termCount {
	counts := make(map[string]int)
	for _, t := range texts {
		for _, w := range tokenize(t) {
			if stopwords[w] || len(w) < 3 {
				continue
			}
			counts[w]++
		}
	}
	ranked := make([]termCount, 0, len(counts))
	for term, c := range counts {
		ranked = append(ranked, termCount{Term: term, Count: c})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Count != ranked[j].Count {
			return ranked[i].Count > ranked[j].Count
		}
		return ranked[i].Term < ranked[j].Term
	})
	if len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}

// sentimentScore returns a value in [-1, 1] from lexicon hits.
func sentimentScore(text string) float64 {
	var pos, neg int
	for _, w := range tokenize(text) {
		switch {
		case positiveWords[w]:
			pos++
		case negativeWords[w]:
			neg++
		}
	}
	if pos+neg == 0 {
		return 0
	}
	return float64(pos-neg) / float64(pos+neg)
}

// communicationStyle classifies tone from politeness and casual markers.
func communicationStyle(texts []string) string {
	var polite, casual int
	for _, t := range texts {
		for _, w := range tokenize(t) {
			if politeWords[w] {
				polite++
			}
			if casualWords[w] {
				casual++
			}
		}
		casual += strings.Count(t, "!")
	}
	switch {
	case polite > casual:
		return "formal"
	case casual > polite:
		return "casual"
	}
	return "neutral"
}

// detailLevel infers how much detail a writer favours from message length.
func detailLevel(texts []string) string {
	if len(texts) == 0 {
		return ""
	}
	switch avg := averageLength(texts); {
	case avg >= 160:
		return "high"
	case avg >= 60:
		return "medium"
	}
	return "low"
}

func averageLength(texts []string) float64 {
	if len(texts) == 0 {
		return 0
	}
	var total int
	for _, t := range texts {
		total += len(t)
	}
	return float64(total) / float64(len(texts))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
