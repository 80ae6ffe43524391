package core

import (
	"fmt"
	"strconv"
	"strings"
)

// ScaleSize is the number of points on the Likert scale.
const ScaleSize = 5

// AnchorCacheKey identifies an anchor set by its ordered statement contents.
type AnchorCacheKey [ScaleSize]string

// String encodes k with every statement prefixed by its byte length, so distinct keys never
// encode alike whatever bytes the statements contain.
func (k AnchorCacheKey) String() string {
	var b strings.Builder
	for _, s := range k {
		b.WriteString(strconv.Itoa(len(s)))
		b.WriteByte(':')
		b.WriteString(s)
	}
	return b.String()
}

// AnchorSet is a named group of five reference statements, index 0 most negative.
type AnchorSet struct {
	name       string
	statements [ScaleSize]string
}

// NewAnchorSet validates and builds an anchor set.
func NewAnchorSet(name string, statements ...string) (AnchorSet, error) {
	if len(statements) != ScaleSize {
		return AnchorSet{}, &ValidationError{
			Field:   "anchor_set",
			Value:   name,
			Message: fmt.Sprintf("expected %d statements, got %d", ScaleSize, len(statements)),
		}
	}
	var s AnchorSet
	s.name = name
	for i, st := range statements {
		st = strings.TrimSpace(st)
		if st == "" {
			return AnchorSet{}, &ValidationError{
				Field:   "anchor_set",
				Value:   name,
				Message: fmt.Sprintf("statement %d is empty", i+1),
			}
		}
		s.statements[i] = st
	}
	return s, nil
}

// MustAnchorSet is like NewAnchorSet but panics on invalid input.
func MustAnchorSet(name string, statements ...string) AnchorSet {
	s, err := NewAnchorSet(name, statements...)
	if err != nil {
		panic(err)
	}
	return s
}

// Name returns the anchor set's display name.
func (s AnchorSet) Name() string { return s.name }

// Statements returns the five statements in scale order.
func (s AnchorSet) Statements() []string {
	out := make([]string, ScaleSize)
	copy(out, s.statements[:])
	return out
}

// Key returns the content-based cache key.
func (s AnchorSet) Key() AnchorCacheKey { return AnchorCacheKey(s.statements) }

// Valid reports whether the set was built through NewAnchorSet.
func (s AnchorSet) Valid() bool {
	for _, st := range s.statements {
		if st == "" {
			return false
		}
	}
	return true
}

var defaultAnchorSets = []AnchorSet{
	MustAnchorSet("1",
		"I definitely would not buy this product.",
		"I probably would not buy this product.",
		"I'm not sure if I would buy this product.",
		"I would probably buy this product.",
		"I would definitely buy this product.",
	),
	MustAnchorSet("2",
		"There's no chance I would buy this product.",
		"It's unlikely I would make a purchase.",
		"I'm undecided if this is something I'd buy.",
		"I am leaning toward buying the product.",
		"I'm certain I would buy this product.",
	),
	MustAnchorSet("3",
		"I have absolutely no interest in buying this.",
		"I doubt I will purchase it.",
		"I can't say whether I'd buy this product or not.",
		"I'm interested and could see myself buying it.",
		"I definitely plan to buy this product.",
	),
	MustAnchorSet("4",
		"I see no reason to purchase this.",
		"I probably wouldn't choose to buy it.",
		"I feel neutral about buying this product.",
		"There's a good chance I would buy it.",
		"I'm very likely to buy this product.",
	),
	MustAnchorSet("5",
		"I'm sure I would not buy this.",
		"Buying this doesn't appeal to me.",
		"I might consider buying, but I'm unsure.",
		"I would consider buying this product.",
		"Buying this product is an easy choice for me.",
	),
	MustAnchorSet("6",
		"I would never buy this product.",
		"I'm not very interested in this product.",
		"I have mixed feelings about purchasing this.",
		"I would most likely buy this product.",
		"I'm enthusiastic about buying this product.",
	),
}

// DefaultAnchorSets returns the built-in purchase-intent anchor sets.
func DefaultAnchorSets() []AnchorSet {
	return append([]AnchorSet{}, defaultAnchorSets...)
}
