package lanes

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gabapcia/xcmwatch/internal/chainstream"
	"github.com/gabapcia/xcmwatch/internal/xcm"
)

type executedData struct {
	MessageHash string `json:"messageHash,omitempty"`
	MessageID   string `json:"messageId,omitempty"`
	Outcome     string `json:"outcome,omitempty"`
	Error       string `json:"error,omitempty"`
}

type processedData struct {
	ID      string `json:"id"`
	Origin  string `json:"origin"`
	Success *bool  `json:"success,omitempty"`
	Error   string `json:"error,omitempty"`
}

// execution is what a receive matcher learns from one event.
type execution struct {
	hash    string
	id      string
	outcome xcm.Outcome
	err     string
}

// matcher recognizes an execution event. ok is false for unrelated events.
type matcher func(spec Spec, ev chainstream.Event) (execution, bool, error)

func executedWith(section, method string, outcome func(executedData) xcm.Outcome) matcher {
	return func(_ Spec, ev chainstream.Event) (execution, bool, error) {
		if !ev.Is(section, method) {
			return execution{}, false, nil
		}

		var data executedData
		if err := ev.Decode(&data); err != nil {
			return execution{}, false, fmt.Errorf("decode %s.%s: %w", section, method, err)
		}

		return execution{
			hash:    data.MessageHash,
			id:      data.MessageID,
			outcome: outcome(data),
			err:     data.Error,
		}, true, nil
	}
}

func fixedOutcome(o xcm.Outcome) func(executedData) xcm.Outcome {
	return func(executedData) xcm.Outcome { return o }
}

// reportedOutcome maps the runtime outcome field; only "Complete" is a success.
func reportedOutcome(data executedData) xcm.Outcome {
	if data.Outcome == "Complete" {
		return xcm.OutcomeSuccess
	}
	return xcm.OutcomeFail
}

// messageQueue recognizes the generic message queue pallet events for
// messages coming from origin. A nil origin accepts the subscription origin.
func messageQueue(origin func(Spec) string) matcher {
	return func(spec Spec, ev chainstream.Event) (execution, bool, error) {
		processed := ev.Is("messageQueue", "Processed")
		if !processed && !ev.Is("messageQueue", "ProcessingFailed") {
			return execution{}, false, nil
		}

		var data processedData
		if err := ev.Decode(&data); err != nil {
			return execution{}, false, fmt.Errorf("decode messageQueue.%s: %w", ev.Method, err)
		}

		if data.Origin != origin(spec) {
			return execution{}, false, nil
		}

		outcome := xcm.OutcomeFail
		if processed && (data.Success == nil || *data.Success) {
			outcome = xcm.OutcomeSuccess
		}

		return execution{hash: data.ID, id: data.ID, outcome: outcome, err: data.Error}, true, nil
	}
}

func subscriptionOrigin(spec Spec) string { return spec.Origin }
func relayOrigin(Spec) string             { return xcm.RelayChainID }

// assetsTrapped returns the data of a trap event emitted after the event at
// index i, in the same phase and before the next execution event.
func assetsTrapped(block chainstream.Block, i int, isExecution func(chainstream.Event) bool) json.RawMessage {
	phase := block.Events[i].ExtrinsicIndex

	for _, ev := range block.Events[i+1:] {
		if !samePhase(phase, ev.ExtrinsicIndex) || isExecution(ev) {
			break
		}
		if ev.Method == "AssetsTrapped" && (ev.Section == "polkadotXcm" || ev.Section == "xcmPallet") {
			return ev.Data
		}
	}
	return nil
}

func samePhase(a, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func inbound(spec Spec, matchers ...matcher) Extractor {
	isExecution := func(ev chainstream.Event) bool {
		for _, match := range matchers {
			if _, ok, _ := match(spec, ev); ok {
				return true
			}
		}
		return false
	}

	return func(_ context.Context, block chainstream.Block) ([]xcm.LegEvent, error) {
		var out []xcm.LegEvent

		for i, ev := range block.Events {
			for _, match := range matchers {
				exec, ok, err := match(spec, ev)
				if err != nil {
					return nil, err
				}
				if !ok {
					continue
				}

				dest := terminus(block, &ev, exec.outcome)
				dest.Error = exec.err
				dest.AssetsTrapped = assetsTrapped(block, i, isExecution)

				out = append(out, xcm.ReceivedEvent{
					SubscriptionID: spec.SubscriptionID,
					Destination:    dest,
					MessageHash:    exec.hash,
					MessageID:      exec.id,
				})
				break
			}
		}

		return out, nil
	}
}

func hrmpReceive(spec Spec) Extractor {
	return inbound(spec,
		executedWith("xcmpQueue", "Success", fixedOutcome(xcm.OutcomeSuccess)),
		executedWith("xcmpQueue", "Fail", fixedOutcome(xcm.OutcomeFail)),
		messageQueue(subscriptionOrigin),
	)
}

func umpReceive(spec Spec) Extractor {
	return inbound(spec,
		executedWith("ump", "ExecutedUpward", reportedOutcome),
		messageQueue(subscriptionOrigin),
	)
}

func dmpReceive(spec Spec) Extractor {
	return inbound(spec,
		executedWith("dmpQueue", "ExecutedDownward", reportedOutcome),
		messageQueue(relayOrigin),
	)
}
