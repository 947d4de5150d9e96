// Package wordmatch implements the whole-word keyword policy shared by the
// keyword stages and the text-score fallback: \b<kw>\b, case-insensitive.
package wordmatch

import (
	"fmt"
	"regexp"
	"sync"
)

var (
	mu    sync.RWMutex
	cache = make(map[string]*regexp.Regexp)
)

// pattern returns the compiled whole-word regexp for kw, caching compiles.
// Keyword sets are small and repeat across rows, so the cache stays tiny.
func pattern(kw string) (*regexp.Regexp, error) {
	mu.RLock()
	re, ok := cache[kw]
	mu.RUnlock()
	if ok {
		return re, nil
	}

	re, err := regexp.Compile(`(?i)\b` + regexp.QuoteMeta(kw) + `\b`)
	if err != nil {
		return nil, fmt.Errorf("bad keyword %q: %w", kw, err)
	}
	mu.Lock()
	cache[kw] = re
	mu.Unlock()
	return re, nil
}

// Match reports whether kw appears in text as a whole word,
// case-insensitively. An empty keyword never matches.
func Match(kw, text string) bool {
	if kw == "" {
		return false
	}
	re, err := pattern(kw)
	if err != nil {
		return false
	}
	return re.MatchString(text)
}

// FirstMatch returns the first keyword in kws that whole-word-matches text,
// and whether any did.
func FirstMatch(kws []string, text string) (string, bool) {
	for _, kw := range kws {
		if Match(kw, text) {
			return kw, true
		}
	}
	return "", false
}
