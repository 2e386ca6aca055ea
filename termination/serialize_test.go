package termination

import (
	"testing"

	"github.com/loopkit/loopkit/component"
	"github.com/loopkit/loopkit/schema"
)

func TestCompositeConditionRoundTrip(t *testing.T) {
	original := Or(NewMaxMessages(10), NewTextMention("TERMINATE").CaseSensitive())

	model, err := component.Dump(original)
	if err != nil {
		t.Fatalf("dump: %v", err)
	}

	loaded, err := component.LoadAs[Condition](model)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	msgs := []schema.Message{
		schema.NewUserMessage("go"),
		schema.NewAssistantMessage("ok, TERMINATE"),
	}
	if done, _ := loaded.Evaluate(msgs); !done {
		t.Fatalf("loaded condition should stop on marker")
	}

	// case sensitivity survived the round trip
	lower := []schema.Message{
		schema.NewUserMessage("go"),
		schema.NewAssistantMessage("ok, terminate"),
	}
	if done, _ := loaded.Evaluate(lower); done {
		t.Fatalf("loaded condition should stay case-sensitive")
	}
}
