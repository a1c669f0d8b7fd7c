// Package classify maps failure text to the failure taxonomy.
package classify

import (
	"regexp"
	"strings"

	"github.com/acarl005/stripansi"

	"github.com/boyarskiy/testanalyzer/internal/model"
)

// maxExcerptLen is the maximum length for failure excerpts.
const maxExcerptLen = 200

type rule struct {
	category   model.Category
	patterns   []*regexp.Regexp
	suggestion string
}

// rules are checked in order; first match wins. New categories are appended
// at the end and existing entries keep their position.
var rules = []rule{
	{
		// Checked before assertions: a null dereference inside a matcher's
		// comparison is still a null dereference.
		category: model.CategoryNullReference,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?is)NoSuchMethodError.*\bnull\b`),
			regexp.MustCompile(`(?is)\bnull\b.*NoSuchMethodError`),
			regexp.MustCompile(`(?i)null check operator used on a null value`),
			regexp.MustCompile(`(?i)NullPointerException`),
			regexp.MustCompile(`(?i)null\s*pointer`),
			regexp.MustCompile(`(?i)cannot read propert(y|ies) of (null|undefined)`),
			regexp.MustCompile(`(?i)LateInitializationError`),
		},
		suggestion: "Check that objects are initialized before use: add null checks or initialize fields in setUp.",
	},
	{
		category: model.CategoryType,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)type '[^']*' is not a subtype of type`),
			regexp.MustCompile(`\bTypeError\b`),
			regexp.MustCompile(`\bCastError\b`),
		},
		suggestion: "Verify casts and generic types; make sure mocks and fakes return the declared types.",
	},
	{
		category: model.CategoryRange,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`\bRangeError\b`),
			regexp.MustCompile(`(?i)index out of range`),
			regexp.MustCompile(`(?i)not in (inclusive )?range`),
			regexp.MustCompile(`(?i)\bIndexError\b`),
		},
		suggestion: "Check collection bounds and index arithmetic; guard against empty lists.",
	},
	{
		category: model.CategoryTimeout,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)TimeoutException`),
			regexp.MustCompile(`(?i)\btimed out (after|waiting)\b`),
			regexp.MustCompile(`(?i)\b(test|operation|request) timed out\b`),
			regexp.MustCompile(`(?i)exceeded\s*time`),
			regexp.MustCompile(`(?i)deadline exceeded`),
		},
		suggestion: "Await every future the test starts and look for hung async work before raising the timeout.",
	},
	{
		category: model.CategoryNetwork,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)SocketException`),
			regexp.MustCompile(`(?i)HttpException`),
			regexp.MustCompile(`(?i)ECONNREFUSED|ECONNRESET`),
			regexp.MustCompile(`(?i)connection (refused|reset|closed)`),
			regexp.MustCompile(`(?i)failed host lookup`),
			regexp.MustCompile(`(?i)\bnetwork (error|is unreachable)\b`),
		},
		suggestion: "Mock network calls or start the test server in setUp; unit tests should not depend on a live network.",
	},
	{
		category: model.CategoryFileSystem,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)FileSystemException`),
			regexp.MustCompile(`(?i)PathNotFoundException`),
			regexp.MustCompile(`(?i)no such file or directory`),
			regexp.MustCompile(`\bENOENT\b|\bEACCES\b`),
			regexp.MustCompile(`(?i)permission denied`),
		},
		suggestion: "Use temporary directories created in setUp, verify paths, and clean up in tearDown.",
	},
	{
		category: model.CategoryAssertion,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?m)^\s*Expected:`),
			regexp.MustCompile(`(?m)^\s*Actual:`),
			regexp.MustCompile(`\bTestFailure\b`),
			regexp.MustCompile(`(?i)\bassert`),
			regexp.MustCompile(`(?i)\bexpect\b`),
		},
		suggestion: "Review expectations against the current behavior: update the expected value or fix the regression.",
	},
}

// unknownSuggestion is used when no rule matches.
const unknownSuggestion = "Review test setup/teardown and the full stack trace to find the root cause."

// Classify returns the category and remediation hint for a failure. The error
// text is matched first; the stack trace is only consulted when the text
// matches nothing.
func Classify(errorText, stackTrace string) (model.Category, string) {
	if r, ok := match(errorText); ok {
		return r.category, r.suggestion
	}
	if r, ok := match(stackTrace); ok {
		return r.category, r.suggestion
	}
	return model.CategoryUnknown, unknownSuggestion
}

// Suggestion returns the remediation hint of a category.
func Suggestion(c model.Category) string {
	for _, r := range rules {
		if r.category == c {
			return r.suggestion
		}
	}
	return unknownSuggestion
}

func match(text string) (rule, bool) {
	if strings.TrimSpace(text) == "" {
		return rule{}, false
	}
	text = stripansi.Strip(text)
	for _, r := range rules {
		for _, pattern := range r.patterns {
			if pattern.MatchString(text) {
				return r, true
			}
		}
	}
	return rule{}, false
}

// Records classifies every record that failed at least once. Records that
// never failed keep an empty category.
func Records(records map[model.TestIdentity]*model.TestRecord) {
	for _, rec := range records {
		if rec.FailCount() == 0 {
			continue
		}
		var errText, stack string
		if rec.RepresentativeFailure != nil {
			errText = rec.RepresentativeFailure.Error
			stack = rec.RepresentativeFailure.StackTrace
		}
		rec.Category, rec.Suggestion = Classify(errText, stack)
	}
}

// Excerpt normalizes whitespace, strips terminal colors and truncates a
// failure message for display.
func Excerpt(s string) string {
	s = strings.Join(strings.Fields(stripansi.Strip(s)), " ")

	if len(s) <= maxExcerptLen {
		return s
	}
	return s[:maxExcerptLen-3] + "..."
}
