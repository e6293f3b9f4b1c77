package schema

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Transform resolves the collected candidate values for a field into one
// canonical value. An error return is a hard transform failure: the engine
// aborts the whole run and the job fails terminally.
type Transform func(ctx context.Context, values []string) (string, error)

// LookupTransform resolves a rule's transform reference. Empty means no
// transform. Unknown names are rejected here so the registry can refuse the
// definition before any job references it.
func LookupTransform(name string) (Transform, error) {
	switch {
	case name == "":
		return nil, nil
	case name == "first":
		return transformFirst, nil
	case name == "join":
		return transformJoin, nil
	case name == "date":
		return transformDate, nil
	case name == "amount":
		return transformAmount, nil
	case strings.HasPrefix(name, "js:"):
		expr := strings.TrimSpace(strings.TrimPrefix(name, "js:"))
		if expr == "" {
			return nil, fmt.Errorf("empty js transform expression")
		}
		return scriptTransform(expr), nil
	}
	return nil, fmt.Errorf("unknown transform %q", name)
}

// transformFirst takes the highest-priority candidate as-is.
func transformFirst(_ context.Context, values []string) (string, error) {
	return values[0], nil
}

// transformJoin concatenates all candidates in priority order.
func transformJoin(_ context.Context, values []string) (string, error) {
	return strings.Join(values, " "), nil
}

var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"01/02/2006",
	"02.01.2006",
	"Jan 2, 2006",
	"January 2, 2006",
	"2 Jan 2006",
	"2 January 2006",
}

// transformDate canonicalizes the first parseable candidate to ISO-8601.
func transformDate(_ context.Context, values []string) (string, error) {
	for _, v := range values {
		v = strings.TrimSpace(v)
		for _, layout := range dateLayouts {
			if ts, err := time.Parse(layout, v); err == nil {
				return ts.Format("2006-01-02"), nil
			}
		}
	}
	return "", fmt.Errorf("no candidate parses as a date: %q", values)
}

var amountCleaner = strings.NewReplacer("$", "", "€", "", "£", "", ",", "", " ", "")

// transformAmount canonicalizes the first parseable candidate to a decimal
// with two fraction digits. Exact decimal math, never float.
func transformAmount(_ context.Context, values []string) (string, error) {
	for _, v := range values {
		cleaned := amountCleaner.Replace(strings.TrimSpace(v))
		if cleaned == "" {
			continue
		}
		if d, err := decimal.NewFromString(cleaned); err == nil {
			return d.StringFixed(2), nil
		}
	}
	return "", fmt.Errorf("no candidate parses as an amount: %q", values)
}
