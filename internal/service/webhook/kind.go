package webhook

import (
	"strings"

	"github.com/splax/actioncounter/internal/domain"
)

// Kind classifies a webhook delivery by its event header.
type Kind int

const (
	// KindUnrecognized is any event the ingestor does not handle.
	KindUnrecognized Kind = iota
	// KindPing is GitHub's hook configuration check.
	KindPing
	// KindCheckRun reports a single check run.
	KindCheckRun
	// KindCheckSuite reports a suite of check runs.
	KindCheckSuite
)

// Classify maps the X-GitHub-Event header value onto a Kind.
func Classify(header string) Kind {
	switch strings.TrimSpace(header) {
	case domain.EventPing:
		return KindPing
	case domain.EventCheckRun:
		return KindCheckRun
	case domain.EventCheckSuite:
		return KindCheckSuite
	default:
		return KindUnrecognized
	}
}

func (k Kind) String() string {
	switch k {
	case KindPing:
		return domain.EventPing
	case KindCheckRun:
		return domain.EventCheckRun
	case KindCheckSuite:
		return domain.EventCheckSuite
	default:
		return "unrecognized"
	}
}
