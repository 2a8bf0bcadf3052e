// Package dictionary implements the Vocabulary & Dictionary Store (C1):
// name/hospital/insurance/non-PHI term lists, exact and phonetic membership
// tests, and a persistent cache for phonetic match results across sessions.
package dictionary

import (
	"bufio"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/clinacta/phi-deidentifier/internal/logger"
	"github.com/clinacta/phi-deidentifier/internal/metrics"
)

// Category tags a non-PHI vocabulary hit (spec.md §4.1's "document-structure
// terms, medical terminology, geographic context words, field labels,
// never-name words").
type Category string

const (
	CategoryStructure  Category = "structure"
	CategoryMedical    Category = "medical"
	CategoryGeographic Category = "geographic"
	CategoryFieldLabel Category = "field_label"
	CategoryNeverName  Category = "never_name"
)

// file names expected under the dictionary directory. Each is optional;
// a missing file degrades to an empty set with a warning, never an error
// (spec.md §4.1's "never raises in the hot path").
const (
	fileFirstNames  = "first_names.txt"
	fileSurnames    = "surnames.txt"
	fileHospitals   = "hospitals.txt"
	fileInsurance   = "insurance_companies.txt"
	fileStructure   = "nonphi_structure.txt"
	fileMedical     = "nonphi_medical.txt"
	fileGeographic  = "nonphi_geographic.txt"
	fileFieldLabels = "field_labels.txt"
	fileNeverName   = "never_name.txt"
)

// Store holds every corpus loaded at startup. All lookups are
// case/diacritic/NFKC-normalized and read-only once loaded, so a *Store is
// safe for concurrent use by every filter goroutine without locking.
type Store struct {
	firstNames map[string]struct{}
	surnames   map[string]struct{}
	hospitals  map[string]struct{}
	insurance  map[string]struct{}

	// nonPHI maps a normalized term/phrase to its category.
	nonPHI map[string]Category

	phonetic *PhoneticIndex
	cache    PersistentCache

	log *logger.Logger
}

// SetCache attaches a PersistentCache so subsequent PhoneticMatch calls
// consult it before falling back to the in-process index. Passing nil
// detaches the cache (PhoneticMatch then always computes directly).
func (s *Store) SetCache(cache PersistentCache) {
	s.cache = cache
}

// Load reads every corpus file from dir and builds the phonetic index over
// first names and surnames. dir itself is not required to exist; every
// individual file is independently optional.
func Load(dir string, log *logger.Logger) *Store {
	if log == nil {
		log = logger.New("DICTIONARY", "info")
	}
	s := &Store{
		firstNames: loadSet(dir, fileFirstNames, log),
		surnames:   loadSet(dir, fileSurnames, log),
		hospitals:  loadSet(dir, fileHospitals, log),
		insurance:  loadSet(dir, fileInsurance, log),
		nonPHI:     make(map[string]Category),
		log:        log,
	}
	loadCategory(dir, fileStructure, CategoryStructure, s.nonPHI, log)
	loadCategory(dir, fileMedical, CategoryMedical, s.nonPHI, log)
	loadCategory(dir, fileGeographic, CategoryGeographic, s.nonPHI, log)
	loadCategory(dir, fileFieldLabels, CategoryFieldLabel, s.nonPHI, log)
	loadCategory(dir, fileNeverName, CategoryNeverName, s.nonPHI, log)

	names := make([]string, 0, len(s.firstNames)+len(s.surnames))
	for n := range s.firstNames {
		names = append(names, n)
	}
	for n := range s.surnames {
		names = append(names, n)
	}
	sort.Strings(names)
	s.phonetic = NewPhoneticIndex(names)
	return s
}

func loadSet(dir, name string, log *logger.Logger) map[string]struct{} {
	set := make(map[string]struct{})
	path := filepath.Join(dir, name)
	f, err := os.Open(path) //nolint:gosec // G304: dir is an operator-controlled dictionary path, not user input
	if err != nil {
		log.Warnf("load", "%s not found, using empty set: %v", name, err)
		return set
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		set[normalizeKey(line)] = struct{}{}
	}
	return set
}

func loadCategory(dir, name string, cat Category, into map[string]Category, log *logger.Logger) {
	path := filepath.Join(dir, name)
	f, err := os.Open(path) //nolint:gosec // G304: see loadSet
	if err != nil {
		log.Warnf("load", "%s not found, using empty set: %v", name, err)
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		into[normalizeKey(normalizeWhitespace(line))] = cat
	}
}

// Sizes reports how many entries loaded into each corpus, keyed by file
// name, for the management API's /status endpoint.
func (s *Store) Sizes() map[string]int {
	return map[string]int{
		fileFirstNames: len(s.firstNames),
		fileSurnames:   len(s.surnames),
		fileHospitals:  len(s.hospitals),
		fileInsurance:  len(s.insurance),
		"nonphi_terms": len(s.nonPHI),
	}
}

// ContainsExact reports whether term is an exact (normalized) member of any
// of the name/hospital/insurance lists.
func (s *Store) ContainsExact(term string) bool {
	key := normalizeKey(term)
	if _, ok := s.firstNames[key]; ok {
		return true
	}
	if _, ok := s.surnames[key]; ok {
		return true
	}
	if _, ok := s.hospitals[key]; ok {
		return true
	}
	if _, ok := s.insurance[key]; ok {
		return true
	}
	return false
}

// IsFirstName reports whether term normalizes to a known first name.
func (s *Store) IsFirstName(term string) bool {
	_, ok := s.firstNames[normalizeKey(term)]
	return ok
}

// IsSurname reports whether term normalizes to a known surname.
func (s *Store) IsSurname(term string) bool {
	_, ok := s.surnames[normalizeKey(term)]
	return ok
}

// IsHospital reports whether term normalizes to a known hospital name.
func (s *Store) IsHospital(term string) bool {
	_, ok := s.hospitals[normalizeKey(term)]
	return ok
}

// ClassifyAsNonPHI returns the non-PHI category for text, if any. The whole
// (whitespace-normalized) phrase is looked up as one key, so a multi-word
// field label like "Patient Name:" and a bare word like "admitted" both
// resolve; the individual words of a longer phrase are not looked up.
func (s *Store) ClassifyAsNonPHI(text string) (Category, bool) {
	phrase := normalizeKey(normalizeWhitespace(text))
	if cat, ok := s.nonPHI[phrase]; ok {
		return cat, true
	}
	return "", false
}

// IsNeverName reports whether every word of phrase is in the never-name set
// (spec.md §4.2's "every token is in the never-name set" suppression rule).
func (s *Store) IsNeverName(phrase string) bool {
	words := strings.Fields(phrase)
	if len(words) == 0 {
		return false
	}
	for _, w := range words {
		cat, ok := s.nonPHI[normalizeKey(w)]
		if !ok || cat != CategoryNeverName {
			return false
		}
	}
	return true
}

// PhoneticMatch reports the best phonetic match for token against the
// combined first-name/surname corpus, using Double Metaphone with the given
// similarity floor (spec.md default 0.8). floor <= 0 uses the default. When
// a PersistentCache is attached (SetCache), successful and failed lookups
// are both cached by normalized token.
func (s *Store) PhoneticMatch(token string, floor float64) (PhoneticMatch, bool) {
	return s.PhoneticMatchWithMetrics(token, floor, nil)
}

// PhoneticMatchWithMetrics is PhoneticMatch with optional cache-hit/miss
// telemetry (m may be nil).
func (s *Store) PhoneticMatchWithMetrics(token string, floor float64, m *metrics.Metrics) (PhoneticMatch, bool) {
	if floor <= 0 {
		floor = defaultSimilarityFloor
	}
	key := normalizeKey(token)

	if s.cache != nil {
		if match, ok := s.cache.Get(key); ok {
			if m != nil {
				m.RecordCacheHit("phonetic")
			}
			if match.Canonical == "" {
				return PhoneticMatch{}, false
			}
			return match, true
		}
		if m != nil {
			m.RecordCacheMiss("phonetic")
		}
	}

	match, ok := s.phonetic.Lookup(token, floor)
	if s.cache != nil {
		s.cache.Set(key, match) // a zero-value PhoneticMatch caches the negative result too
	}
	return match, ok
}
