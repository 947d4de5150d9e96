package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

func outputJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding JSON: %v\n", err)
	}
}

var dateParser = func() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}()

// parseDateFlag accepts either YYYY-MM-DD or a natural expression like
// "3 days ago" or "last monday" and returns the date as YYYY-MM-DD.
func parseDateFlag(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t.Format("2006-01-02"), nil
	}
	r, err := dateParser.Parse(s, time.Now())
	if err != nil {
		return "", fmt.Errorf("parse date %q: %w", s, err)
	}
	if r == nil {
		return "", fmt.Errorf("cannot interpret date %q", s)
	}
	return r.Time.Format("2006-01-02"), nil
}
