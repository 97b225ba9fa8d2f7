package instrument

import "testtrace/internal/trace"

// TestIdentity names a test the way its span tags do.
type TestIdentity struct {
	Suite     string
	Framework string
	Name      string
}

// CommonTags returns the tags every span of the test carries, metadata
// first so it cannot shadow them.
func CommonTags(id TestIdentity, metadata map[string]string) trace.Tags {
	tags := make(trace.Tags, len(metadata)+10)
	for k, v := range metadata {
		tags[k] = v
	}
	tags[TagTestType] = "test"
	tags[TagTestName] = id.Name
	tags[TagTestSuite] = id.Suite
	tags[TagTestFramework] = id.Framework
	tags[TagSpanType] = "test"
	tags[TagResourceName] = id.Suite + "." + id.Name
	tags[TagSamplingRule] = samplingRuleDecision
	tags[TagSamplingPriority] = samplingAutoKeep
	return tags
}

// TagTimeout layers a timeout failure onto span. Failures of any other kind
// and finished spans are left alone; the result reports whether span was
// tagged.
func TagTimeout(span *trace.Span, f Failure) bool {
	if f.Kind != FailureTimeout {
		return false
	}
	applied := span.SetTags(trace.Tags{
		TagErrorType:    TimeoutErrorType,
		TagErrorMessage: f.Message,
		TagTestStatus:   StatusFail,
	})
	if applied {
		span.SetError(f.Message)
	}
	return applied
}

// TagFailure tags span as failed with errType. A timeout already on the
// span wins and an empty stack is omitted; the result reports whether span
// was tagged.
func TagFailure(span *trace.Span, errType, message, stack string) bool {
	if TimedOut(span) {
		return false
	}
	tags := trace.Tags{
		TagTestStatus:   StatusFail,
		TagErrorType:    errType,
		TagErrorMessage: message,
	}
	if stack != "" {
		tags[TagErrorStack] = stack
	}
	if !span.SetTags(tags) {
		return false
	}
	span.SetError(message)
	return true
}

// TimedOut reports whether span carries a timeout failure.
func TimedOut(span *trace.Span) bool {
	v, _ := span.Tag(TagErrorType)
	return v == TimeoutErrorType
}
