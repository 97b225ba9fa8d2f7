package instrument

// Span tag names written on every test span.
const (
	TagTestType         = "test.type"
	TagTestName         = "test.name"
	TagTestSuite        = "test.suite"
	TagTestStatus       = "test.status"
	TagTestParameters   = "test.parameters"
	TagTestFramework    = "test.framework"
	TagErrorType        = "error.type"
	TagErrorMessage     = "error.message"
	TagErrorStack       = "error.stack"
	TagSamplingPriority = "sampling.priority"
	TagSamplingRule     = "sampling.rule"
	TagSpanType         = "span.type"
	TagResourceName     = "resource.name"
)

// Values of the test.status tag.
const (
	StatusPass = "pass"
	StatusFail = "fail"
	StatusSkip = "skip"
)

const (
	// TimeoutErrorType is the error.type of a test that exceeded its timeout.
	TimeoutErrorType = "Timeout"
	// GenericErrorType is used when a failure has no nameable type.
	GenericErrorType = "Error"

	samplingAutoKeep     = 1
	samplingRuleDecision = 1
)
