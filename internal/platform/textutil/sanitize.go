package textutil

import (
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
)

var (
	strictPolicyOnce sync.Once
	strictPolicy     *bluemonday.Policy
)

// SanitizeFreeText strips any markup from customer-supplied free text such as
// cancellation reasons and delivery notes, collapsing surrounding whitespace.
func SanitizeFreeText(value string) string {
	strictPolicyOnce.Do(func() {
		strictPolicy = bluemonday.StrictPolicy()
	})
	return strings.TrimSpace(strictPolicy.Sanitize(value))
}

// SanitizeFreeTextPtr sanitises optional free text, mapping empty results to nil.
func SanitizeFreeTextPtr(value *string) *string {
	if value == nil {
		return nil
	}
	cleaned := SanitizeFreeText(*value)
	if cleaned == "" {
		return nil
	}
	return &cleaned
}
