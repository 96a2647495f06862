package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"fintrack/internal/core"
)

var errUsage = errors.New("invalid usage")

const dateLayout = "2006-01-02"

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

// parseFlags parses args and wraps failures in errUsage.
func parseFlags(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	return nil
}

// visited returns the names of the flags given on the command line.
func visited(fs *flag.FlagSet) map[string]bool {
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	return set
}

// idArg reads the single positional local id of edit and rm commands.
// Flags may come before or after it.
func idArg(fs *flag.FlagSet, args []string) (int64, error) {
	var positional string
	rest := args
	if len(rest) > 0 && !strings.HasPrefix(rest[0], "-") {
		positional, rest = rest[0], rest[1:]
	}
	if err := parseFlags(fs, rest); err != nil {
		return 0, err
	}
	if positional == "" {
		if fs.NArg() != 1 {
			return 0, fmt.Errorf("%w: expected exactly one id", errUsage)
		}
		positional = fs.Arg(0)
	} else if fs.NArg() != 0 {
		return 0, fmt.Errorf("%w: unexpected arguments %v", errUsage, fs.Args())
	}
	id, err := strconv.ParseInt(positional, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid id %q", errUsage, positional)
	}
	return id, nil
}

// parseDate accepts YYYY-MM-DD or RFC 3339.
func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.ParseInLocation(dateLayout, s, time.UTC); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("%w: invalid date %q, want YYYY-MM-DD", errUsage, s)
}

// parseMonth parses YYYY-MM into the middle of that month so that budget
// windows are evaluated inside it.
func parseMonth(s string) (time.Time, error) {
	t, err := time.ParseInLocation("2006-01", strings.TrimSpace(s), time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: invalid month %q, want YYYY-MM", errUsage, s)
	}
	return t.AddDate(0, 0, 14).Add(12 * time.Hour), nil
}

// parseCategoryRef reads a category id. Zero or "none" means uncategorized.
func parseCategoryRef(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "none") {
		return core.UncategorizedID, nil
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id < 0 {
		return 0, fmt.Errorf("%w: invalid category id %q", errUsage, s)
	}
	return id, nil
}

func splitKeywords(s string) []string {
	var out []string
	for _, k := range strings.Split(s, ",") {
		if k = strings.TrimSpace(k); k != "" {
			out = append(out, k)
		}
	}
	return out
}
