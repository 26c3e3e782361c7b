package khata

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"
	"github.com/antzucaro/matchr"
	"github.com/mozillazg/go-unidecode"
)

const (
	// fuzzyMatchThreshold is the minimum character-level similarity ratio
	// between two Latin baselines before we treat them as the same person.
	// Below this, short names collide too easily.
	fuzzyMatchThreshold = 0.74
	fuzzyMinLength      = 3
	maxSuggestions      = 5
)

// Resolver normalizes and fuzzy-matches customer names across scripts and
// spellings.
type Resolver struct {
	store Store
}

// NewResolver wires a Resolver.
func NewResolver(store Store) (*Resolver, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	return &Resolver{store: store}, nil
}

// Resolution is the outcome of a name lookup. Customers holds every stored
// row the query plausibly refers to; the set is never collapsed silently.
// When empty, Suggestions carries up to five stored names containing the
// query as a substring.
type Resolution struct {
	Customers   []Customer
	Suggestions []string
}

// Found reports whether at least one candidate matched.
func (resolution Resolution) Found() bool {
	return len(resolution.Customers) > 0
}

// NormalizeName lowercases and collapses internal whitespace.
func NormalizeName(raw string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(raw))), " ")
}

// latinBaseline transliterates a name to plain ASCII and normalizes it, so
// "राजू" and "Raju" compare equal.
func latinBaseline(name string) string {
	return NormalizeName(unidecode.Unidecode(name))
}

// PhoneticKey encodes each whitespace-separated token with a pronunciation
// code, falling back to the Latin token itself when no code is produced
// (short tokens, digits). The joined code string is the comparison key.
func PhoneticKey(name string) string {
	tokens := strings.Fields(latinBaseline(name))
	codes := make([]string, 0, len(tokens))
	for _, token := range tokens {
		primary, _ := matchr.DoubleMetaphone(token)
		if primary == "" {
			primary = token
		}
		codes = append(codes, primary)
	}
	return strings.Join(codes, " ")
}

// similarityRatio is a character-level similarity in [0,1] between two
// strings, derived from edit distance.
func similarityRatio(first string, second string) float64 {
	if first == second {
		return 1
	}
	longest := len([]rune(first))
	if other := len([]rune(second)); other > longest {
		longest = other
	}
	if longest == 0 {
		return 0
	}
	distance := levenshtein.ComputeDistance(first, second)
	return 1 - float64(distance)/float64(longest)
}

// Resolve runs the matching pipeline in priority order: exact normalized
// match, transliterated-Latin match, phonetic match, then a guarded fuzzy
// fallback. A query may legitimately match multiple stored rows (spelling
// variants of one real person); all of them are returned.
func (resolver *Resolver) Resolve(ctx context.Context, shop ShopKey, queryName string) (Resolution, error) {
	queryNorm := NormalizeName(queryName)
	if queryNorm == "" {
		return Resolution{}, fmt.Errorf("%w: empty query", ErrCustomerNameRequired)
	}

	stored, err := resolver.store.ListCustomers(ctx, shop.String())
	if err != nil {
		return Resolution{}, err
	}

	if exact := matchBy(stored, func(candidate Customer) bool {
		return candidate.NameNorm == queryNorm
	}); len(exact) > 0 {
		return Resolution{Customers: exact}, nil
	}

	queryLatin := latinBaseline(queryName)
	if latin := matchBy(stored, func(candidate Customer) bool {
		return latinBaseline(candidate.Name) == queryLatin
	}); len(latin) > 0 {
		return Resolution{Customers: latin}, nil
	}

	queryPhonetic := PhoneticKey(queryName)
	if phonetic := matchBy(stored, func(candidate Customer) bool {
		key := candidate.PhoneticKey
		if key == "" {
			key = PhoneticKey(candidate.Name)
		}
		return key == queryPhonetic
	}); len(phonetic) > 0 {
		return Resolution{Customers: phonetic}, nil
	}

	if fuzzy := matchBy(stored, func(candidate Customer) bool {
		candidateLatin := latinBaseline(candidate.Name)
		if len(queryLatin) < fuzzyMinLength || len(candidateLatin) < fuzzyMinLength {
			return false
		}
		return similarityRatio(queryLatin, candidateLatin) >= fuzzyMatchThreshold
	}); len(fuzzy) > 0 {
		return Resolution{Customers: fuzzy}, nil
	}

	return Resolution{Suggestions: suggestNames(stored, queryNorm)}, nil
}

// GetOrCreate upserts a customer keyed on (shop, normalized name) so repeated
// calls with cosmetic name variants converge to one stored row.
func (resolver *Resolver) GetOrCreate(ctx context.Context, shop ShopKey, name string) (Customer, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return Customer{}, ErrCustomerNameRequired
	}
	return resolver.store.UpsertCustomer(ctx, Customer{
		ShopKey:     shop.String(),
		Name:        trimmed,
		NameNorm:    NormalizeName(trimmed),
		PhoneticKey: PhoneticKey(trimmed),
	})
}

func matchBy(stored []Customer, predicate func(Customer) bool) []Customer {
	var matched []Customer
	for _, candidate := range stored {
		if predicate(candidate) {
			matched = append(matched, candidate)
		}
	}
	return matched
}

func suggestNames(stored []Customer, queryNorm string) []string {
	var suggestions []string
	for _, candidate := range stored {
		if strings.Contains(candidate.NameNorm, queryNorm) {
			suggestions = append(suggestions, candidate.Name)
		}
	}
	sort.Strings(suggestions)
	if len(suggestions) > maxSuggestions {
		suggestions = suggestions[:maxSuggestions]
	}
	return suggestions
}
