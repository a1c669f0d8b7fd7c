package classify

import (
	"strings"
	"testing"

	"github.com/boyarskiy/testanalyzer/internal/model"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		message  string
		stack    string
		expected model.Category
	}{
		// AssertionFailure
		{
			name:     "expected actual block",
			message:  "Expected: <42>\n Actual: <43>",
			expected: model.CategoryAssertion,
		},
		{
			name:     "test failure type",
			message:  "TestFailure: value did not match",
			expected: model.CategoryAssertion,
		},
		{
			name:     "assertion error",
			message:  "AssertionError: expected true to be false",
			expected: model.CategoryAssertion,
		},

		// NullReferenceError
		{
			name:     "no such method on null",
			message:  "NoSuchMethodError: The method 'toUpperCase' was called on null.",
			expected: model.CategoryNullReference,
		},
		{
			name:     "null before no such method",
			message:  "Receiver: null\nNoSuchMethodError: Tried calling: length",
			expected: model.CategoryNullReference,
		},
		{
			name:     "null check operator",
			message:  "Null check operator used on a null value",
			expected: model.CategoryNullReference,
		},
		{
			name:     "late initialization",
			message:  "LateInitializationError: Field '_service' has not been initialized.",
			expected: model.CategoryNullReference,
		},

		// TypeError
		{
			name:     "not a subtype",
			message:  "type 'int' is not a subtype of type 'String' in type cast",
			expected: model.CategoryType,
		},
		{
			name:     "type error keyword",
			message:  "TypeError: x.map is not a function",
			expected: model.CategoryType,
		},

		// RangeError
		{
			name:     "range error",
			message:  "RangeError (index): Invalid value: Not in inclusive range 0..2: 3",
			expected: model.CategoryRange,
		},
		{
			name:     "index out of range",
			message:  "index out of range [5] with length 3",
			expected: model.CategoryRange,
		},

		// TimeoutFailure
		{
			name:     "timeout exception",
			message:  "TimeoutException after 0:00:30.000000: Future not completed",
			expected: model.CategoryTimeout,
		},
		{
			name:     "timed out",
			message:  "Test timed out after 30 seconds.",
			expected: model.CategoryTimeout,
		},

		// NetworkError
		{
			name:     "socket exception",
			message:  "SocketException: Connection refused (OS Error: Connection refused, errno = 111)",
			expected: model.CategoryNetwork,
		},
		{
			name:     "failed host lookup",
			message:  "ClientException: Failed host lookup: 'api.example.com'",
			expected: model.CategoryNetwork,
		},

		// FileSystemError
		{
			name:     "file system exception",
			message:  "FileSystemException: Cannot open file, path = 'fixtures/a.json'",
			expected: model.CategoryFileSystem,
		},
		{
			name:     "path not found",
			message:  "PathNotFoundException: Cannot open file, path = 'x' (OS Error: No such file or directory, errno = 2)",
			expected: model.CategoryFileSystem,
		},

		// UnknownError
		{
			name:     "no match",
			message:  "Something went wrong",
			expected: model.CategoryUnknown,
		},
		{
			name:     "empty message",
			message:  "",
			expected: model.CategoryUnknown,
		},

		// Ordering
		{
			name:     "null reference beats assertion",
			message:  "Expected: 'admin'\n  Actual: <null>\nNoSuchMethodError: The getter 'role' was called on null.",
			expected: model.CategoryNullReference,
		},
		{
			name:     "timeout beats assertion",
			message:  "Expected: completes\nTimeoutException after 0:00:05",
			expected: model.CategoryTimeout,
		},

		{
			name:     "network wording in expected value",
			message:  "Expected: 'Network unavailable'\n  Actual: 'Signed in'",
			expected: model.CategoryAssertion,
		},
		{
			name:     "timeout wording in expected value",
			message:  "Expected: 'Session timed-out banner'\n  Actual: 'Home'",
			expected: model.CategoryAssertion,
		},
		{
			name:     "network error",
			message:  "ClientException: Network error while fetching profile",
			expected: model.CategoryNetwork,
		},

		// Stack trace fallback
		{
			name:     "stack trace consulted when text is unknown",
			message:  "Bad state: oops",
			stack:    "dart:io/socket.dart SocketException",
			expected: model.CategoryNetwork,
		},
		{
			name:     "text wins over stack trace",
			message:  "Expected: <1>\n  Actual: <2>",
			stack:    "SocketException somewhere",
			expected: model.CategoryAssertion,
		},
		{
			name:     "colored output",
			message:  "\x1b[31mRangeError\x1b[0m: bad index",
			expected: model.CategoryRange,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, suggestion := Classify(tc.message, tc.stack)
			if got != tc.expected {
				t.Errorf("Classify(%q) = %q, want %q", tc.message, got, tc.expected)
			}
			if suggestion == "" {
				t.Errorf("Classify(%q) returned an empty suggestion", tc.message)
			}
		})
	}
}

func TestClassifyIsDeterministic(t *testing.T) {
	msg := "NoSuchMethodError: The method 'x' was called on null.\nExpected: true"
	first, firstHint := Classify(msg, "")
	for i := 0; i < 50; i++ {
		got, hint := Classify(msg, "")
		if got != first || hint != firstHint {
			t.Fatalf("iteration %d: got (%q, %q), want (%q, %q)", i, got, hint, first, firstHint)
		}
	}
}

func TestAssertionSuggestionMentionsExpectations(t *testing.T) {
	_, suggestion := Classify("Expected: <42>\n Actual: <43>", "")
	if !strings.Contains(strings.ToLower(suggestion), "review expectations") {
		t.Errorf("suggestion %q does not mention reviewing expectations", suggestion)
	}
}

func TestUnknownSuggestionMentionsSetup(t *testing.T) {
	category, suggestion := Classify("Bad state: no element", "")
	if category != model.CategoryUnknown {
		t.Fatalf("category = %q, want %q", category, model.CategoryUnknown)
	}
	if !strings.Contains(suggestion, "setup/teardown") {
		t.Errorf("suggestion %q does not mention setup/teardown", suggestion)
	}
}

func TestRulesCoverEveryCategory(t *testing.T) {
	seen := make(map[model.Category]bool)
	for _, r := range rules {
		if seen[r.category] {
			t.Errorf("category %q has more than one rule", r.category)
		}
		seen[r.category] = true
	}
	for _, c := range model.Categories {
		if c == model.CategoryUnknown {
			continue
		}
		if !seen[c] {
			t.Errorf("category %q has no rule", c)
		}
		if Suggestion(c) == "" {
			t.Errorf("category %q has no suggestion", c)
		}
	}
}

func TestRecords(t *testing.T) {
	failing := &model.TestRecord{
		Identity:         model.TestIdentity{SuitePath: "test/a_test.dart", TestName: "logout"},
		ObservedOutcomes: []bool{false, false, false},
		RepresentativeFailure: &model.RepresentativeFailure{
			RunIndex: 1,
			Error:    "NoSuchMethodError: The getter 'id' was called on null.",
		},
	}
	flakyWithoutText := &model.TestRecord{
		Identity:         model.TestIdentity{SuitePath: "test/a_test.dart", TestName: "login"},
		ObservedOutcomes: []bool{true, false},
	}
	passing := &model.TestRecord{
		Identity:         model.TestIdentity{SuitePath: "test/a_test.dart", TestName: "render"},
		ObservedOutcomes: []bool{true, true},
	}
	records := map[model.TestIdentity]*model.TestRecord{
		failing.Identity:          failing,
		flakyWithoutText.Identity: flakyWithoutText,
		passing.Identity:          passing,
	}

	Records(records)

	if failing.Category != model.CategoryNullReference {
		t.Errorf("failing.Category = %q, want %q", failing.Category, model.CategoryNullReference)
	}
	if flakyWithoutText.Category != model.CategoryUnknown {
		t.Errorf("flaky.Category = %q, want %q", flakyWithoutText.Category, model.CategoryUnknown)
	}
	if passing.Category != "" || passing.Suggestion != "" {
		t.Errorf("passing record was classified: %q / %q", passing.Category, passing.Suggestion)
	}
}

func TestExcerpt(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "short string unchanged",
			input:    "Short error message",
			expected: "Short error message",
		},
		{
			name:     "normalizes whitespace",
			input:    "Error:\n\n  multiple   spaces\tand\ttabs",
			expected: "Error: multiple spaces and tabs",
		},
		{
			name:     "strips colors",
			input:    "\x1b[31mfailed\x1b[0m",
			expected: "failed",
		},
		{
			name:     "truncates long string",
			input:    strings.Repeat("a", 250),
			expected: strings.Repeat("a", 197) + "...",
		},
		{
			name:     "exact length not truncated",
			input:    strings.Repeat("b", 200),
			expected: strings.Repeat("b", 200),
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Excerpt(tc.input)
			if got != tc.expected {
				t.Errorf("Excerpt(%q) = %q, want %q", tc.input, got, tc.expected)
			}
		})
	}
}
