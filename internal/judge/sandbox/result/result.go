// Package result defines execution results and the test outcome taxonomy.
package result

import "encoding/json"

// TestCode classifies the outcome of one test.
type TestCode string

const (
	Accepted            TestCode = "ACCEPTED"
	WrongAnswer         TestCode = "WRONG_ANSWER"
	TimeLimitExceeded   TestCode = "TIME_LIMIT_EXCEEDED"
	RuntimeError        TestCode = "RUNTIME_ERROR"
	OutputLimitExceeded TestCode = "OUTPUT_LIMIT_EXCEEDED"
	MemoryLimitExceeded TestCode = "MEMORY_LIMIT_EXCEEDED"
	InvalidReturn       TestCode = "INVALID_RETURN"
	InternalError       TestCode = "INTERNAL_ERROR"
)

var shortCodes = map[TestCode]string{
	Accepted:            "AC",
	WrongAnswer:         "WA",
	TimeLimitExceeded:   "TLE",
	RuntimeError:        "RTE",
	OutputLimitExceeded: "OLE",
	MemoryLimitExceeded: "MLE",
	InvalidReturn:       "IR",
	InternalError:       "IE",
}

// Short returns the two or three letter code shown to users.
func (c TestCode) Short() string {
	if s, ok := shortCodes[c]; ok {
		return s
	}
	return "IE"
}

// ParseShort maps a short code back to its TestCode.
func ParseShort(s string) (TestCode, bool) {
	for code, short := range shortCodes {
		if short == s {
			return code, true
		}
	}
	return "", false
}

// TestResult is the immutable outcome of one test.
type TestResult struct {
	Code    TestCode `json:"code"`
	Message string   `json:"message,omitempty"`
}

// Accepted reports whether the test passed.
func (r TestResult) Accepted() bool {
	return r.Code == Accepted
}

// CompileCode classifies a compilation attempt.
type CompileCode string

const (
	CompileSuccessful CompileCode = "SUCCESSFUL"
	CompileError      CompileCode = "COMPILE_ERROR"
)

// CompileOutcome is the result of compiling a task. Message carries the
// compiler's error stream on failure.
type CompileOutcome struct {
	Code    CompileCode `json:"code"`
	Message string      `json:"message,omitempty"`
}

// OK reports whether compilation succeeded.
func (o CompileOutcome) OK() bool {
	return o.Code == CompileSuccessful
}

// RunResult captures raw process execution data.
type RunResult struct {
	ExitCode int
	TimedOut bool
	TimeMs   int64
	Stdout   string
	Stderr   string
}

// MarshalJSON encodes the code in its short form, which is what pollers see.
func (c TestCode) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.Short())
}

// UnmarshalJSON accepts both the short and the long form.
func (c *TestCode) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if code, ok := ParseShort(s); ok {
		*c = code
		return nil
	}
	*c = TestCode(s)
	return nil
}
