package notification

import (
	"context"
	"testing"

	"drug-analytics/services"
)

const createdEvent = `{
  "Records": [
    {
      "eventName": "ObjectCreated:Put",
      "s3": {
        "bucket": {"name": "drug-uploads"},
        "object": {"key": "uploads/5b1f7c1e-0d44-4c2b-9a55-7f1e2d3c4b5a/q1+results%282%29.csv", "size": 42}
      }
    },
    {
      "eventName": "ObjectRemoved:Delete",
      "s3": {"bucket": {"name": "drug-uploads"}, "object": {"key": "uploads/old.csv"}}
    },
    {
      "eventName": "s3:ObjectCreated:Put",
      "s3": {"bucket": {"name": "drug-uploads"}, "object": {"key": "uploads/5b1f7c1e-0d44-4c2b-9a55-7f1e2d3c4b5b/b.csv"}}
    }
  ]
}`

func TestParseEvent(t *testing.T) {
	refs, err := ParseEvent([]byte(createdEvent))
	if err != nil {
		t.Fatalf("ParseEvent: %v", err)
	}
	if len(refs) != 2 {
		t.Fatalf("got %d refs, want 2: %+v", len(refs), refs)
	}
	want := "uploads/5b1f7c1e-0d44-4c2b-9a55-7f1e2d3c4b5a/q1 results(2).csv"
	if refs[0].Key != want || refs[0].Bucket != "drug-uploads" || refs[0].Size != 42 {
		t.Errorf("refs[0] = %+v", refs[0])
	}
	if refs[1].Key != "uploads/5b1f7c1e-0d44-4c2b-9a55-7f1e2d3c4b5b/b.csv" {
		t.Errorf("refs[1] = %+v", refs[1])
	}
}

func TestParseEvent_TestEventAndErrors(t *testing.T) {
	refs, err := ParseEvent([]byte(`{"Service":"Amazon S3","Event":"s3:TestEvent","Bucket":"drug-uploads"}`))
	if err != nil || len(refs) != 0 {
		t.Errorf("test event = %v, %v", refs, err)
	}
	if _, err := ParseEvent([]byte(`not json`)); err == nil {
		t.Error("expected error for invalid JSON")
	}
	if _, err := ParseEvent([]byte(`{"Records":[{"eventName":"ObjectCreated:Put","s3":{"object":{"key":"bad%zz"}}}]}`)); err == nil {
		t.Error("expected error for invalid key escape")
	}
}

type processorFunc func(ctx context.Context, key string) services.Outcome

func (f processorFunc) ProcessBlob(ctx context.Context, key string) services.Outcome {
	return f(ctx, key)
}

func TestHandleEvent(t *testing.T) {
	var keys []string
	processor := processorFunc(func(_ context.Context, key string) services.Outcome {
		keys = append(keys, key)
		if len(keys) == 1 {
			return services.OutcomeCompleted
		}
		return services.OutcomeRetry
	})
	results, err := HandleEvent(context.Background(), processor, []byte(createdEvent))
	if err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	if len(results) != 2 || results[0].Outcome != services.OutcomeCompleted || results[1].Outcome != services.OutcomeRetry {
		t.Errorf("results = %+v", results)
	}
	if !NeedsRedelivery(results) {
		t.Error("NeedsRedelivery = false with a retry outcome")
	}
	if NeedsRedelivery(results[:1]) {
		t.Error("NeedsRedelivery = true without a retry outcome")
	}
}
