package webhook

import (
	"fmt"

	"github.com/google/go-github/v61/github"

	"github.com/splax/actioncounter/internal/domain"
)

// decode turns a check_run or check_suite payload into a CheckEvent.
func decode(kind Kind, id string, payload []byte) (domain.CheckEvent, error) {
	raw, err := github.ParseWebHook(kind.String(), payload)
	if err != nil {
		return domain.CheckEvent{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	switch ev := raw.(type) {
	case *github.CheckRunEvent:
		run := ev.GetCheckRun()
		return domain.CheckEvent{
			DeliveryID:  id,
			Kind:        domain.EventCheckRun,
			Source:      run.GetApp().GetSlug(),
			Repo:        ev.GetRepo().GetFullName(),
			Action:      ev.GetAction(),
			Status:      run.GetStatus(),
			Conclusion:  run.GetConclusion(),
			CompletedAt: run.GetCompletedAt().Time,
		}, nil
	case *github.CheckSuiteEvent:
		suite := ev.GetCheckSuite()
		return domain.CheckEvent{
			DeliveryID:  id,
			Kind:        domain.EventCheckSuite,
			Source:      suite.GetApp().GetSlug(),
			Repo:        ev.GetRepo().GetFullName(),
			Action:      ev.GetAction(),
			Status:      suite.GetStatus(),
			Conclusion:  suite.GetConclusion(),
			CompletedAt: suite.GetUpdatedAt().Time,
		}, nil
	default:
		return domain.CheckEvent{}, fmt.Errorf("%w: unexpected event type %T", ErrMalformedPayload, raw)
	}
}
