// Package notification übersetzt Blob-Created-Ereignisse (S3-Event-Dokumente aus SQS
// oder Webhooks) in Aufrufe der asynchronen Ingestion-Phase.
package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"drug-analytics/services"
)

// BlobProcessor ist die asynchrone Phase der Ingestion-Pipeline.
type BlobProcessor interface {
	ProcessBlob(ctx context.Context, blobKey string) services.Outcome
}

// BlobRef ist ein einzelnes neu angelegtes Objekt aus einem Event.
type BlobRef struct {
	Bucket string
	Key    string
	Size   int64
}

// Result ist das Ergebnis der Verarbeitung eines Objekts.
type Result struct {
	BlobKey string           `json:"blob_key"`
	Outcome services.Outcome `json:"outcome"`
}

type s3Event struct {
	Event   string          `json:"Event"`
	Records []s3EventRecord `json:"Records"`
}

type s3EventRecord struct {
	EventName string `json:"eventName"`
	S3        struct {
		Bucket struct {
			Name string `json:"name"`
		} `json:"bucket"`
		Object struct {
			Key  string `json:"key"`
			Size int64  `json:"size"`
		} `json:"object"`
	} `json:"s3"`
}

// ParseEvent liest ein S3-Event-Dokument. Testereignisse und andere Eventtypen als
// ObjectCreated ergeben eine leere Liste. Schlüssel sind im Event URL-kodiert.
func ParseEvent(body []byte) ([]BlobRef, error) {
	var ev s3Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, fmt.Errorf("decode s3 event: %w", err)
	}
	if ev.Event == "s3:TestEvent" {
		return nil, nil
	}
	var refs []BlobRef
	for _, rec := range ev.Records {
		if !strings.Contains(rec.EventName, "ObjectCreated") {
			continue
		}
		key, err := url.QueryUnescape(rec.S3.Object.Key)
		if err != nil {
			return nil, fmt.Errorf("decode object key %q: %w", rec.S3.Object.Key, err)
		}
		refs = append(refs, BlobRef{
			Bucket: rec.S3.Bucket.Name,
			Key:    key,
			Size:   rec.S3.Object.Size,
		})
	}
	return refs, nil
}

// HandleEvent verarbeitet alle Objekte eines Events nacheinander.
func HandleEvent(ctx context.Context, processor BlobProcessor, body []byte) ([]Result, error) {
	refs, err := ParseEvent(body)
	if err != nil {
		return nil, err
	}
	results := make([]Result, 0, len(refs))
	for _, ref := range refs {
		results = append(results, Result{
			BlobKey: ref.Key,
			Outcome: processor.ProcessBlob(ctx, ref.Key),
		})
	}
	return results, nil
}

// NeedsRedelivery meldet, ob mindestens ein Objekt erneut zugestellt werden muss.
func NeedsRedelivery(results []Result) bool {
	for _, r := range results {
		if r.Outcome == services.OutcomeRetry {
			return true
		}
	}
	return false
}
