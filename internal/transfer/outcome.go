package transfer

import "fmt"

// Kind classifies the result of one download attempt.
type Kind int

const (
	// Completed means the final file is in place.
	Completed Kind = iota
	// Unauthorized means the server rejected the token. The caller should
	// refresh it and repeat the attempt.
	Unauthorized
	// RetryableFailure means a later attempt may succeed. The part file
	// keeps every byte that was flushed.
	RetryableFailure
	// FatalFailure means retrying will not help.
	FatalFailure
)

func (k Kind) String() string {
	switch k {
	case Completed:
		return "completed"
	case Unauthorized:
		return "unauthorized"
	case RetryableFailure:
		return "retryable"
	case FatalFailure:
		return "fatal"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Outcome is the result of Engine.Download.
type Outcome struct {
	Kind Kind

	// Reason explains any non-Completed outcome.
	Reason error

	// Offset is the part file size the attempt resumed from.
	Offset int64

	// Written is the number of bytes this attempt flushed to disk.
	Written int64

	// Size is the full object size when known, otherwise -1.
	Size int64

	// Path is the final file for Completed outcomes.
	Path string
}

func (o Outcome) String() string {
	if o.Reason != nil {
		return fmt.Sprintf("%s: %v", o.Kind, o.Reason)
	}
	return o.Kind.String()
}

func retryable(format string, args ...any) Outcome {
	return Outcome{Kind: RetryableFailure, Reason: fmt.Errorf(format, args...), Size: -1}
}

func fatal(format string, args ...any) Outcome {
	return Outcome{Kind: FatalFailure, Reason: fmt.Errorf(format, args...), Size: -1}
}
