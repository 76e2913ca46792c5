package fhir

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// BatchBundle wraps message payloads into a batch bundle, one POST entry per message, in order.
func BatchBundle(messages [][]byte) ([]byte, error) {
	bundle := Bundle{
		ResourceType: resourceBundle,
		Type:         bundleBatch,
		Entry:        make([]BundleEntry, 0, len(messages)),
	}
	for i, msg := range messages {
		if !json.Valid(msg) {
			return nil, fmt.Errorf("%w: batch entry %d is not valid JSON", ErrNotMessageBundle, i)
		}
		bundle.Entry = append(bundle.Entry, BundleEntry{
			Resource: msg,
			Request:  &EntryRequest{Method: "POST", URL: resourceBundle},
		})
	}

	payload, err := json.Marshal(bundle)
	if err != nil {
		return nil, fmt.Errorf("vitalrelay fhir: encode batch: %w", err)
	}

	return payload, nil
}

// BatchStatuses reads the per-entry HTTP status codes of a batch-response bundle, in entry order.
// An entry without a readable status reports 0.
func BatchStatuses(payload []byte) ([]int, error) {
	var bundle Bundle
	if err := json.Unmarshal(payload, &bundle); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotBatchResponse, err)
	}
	if bundle.ResourceType != resourceBundle || bundle.Type != bundleBatchResponse {
		return nil, ErrNotBatchResponse
	}

	statuses := make([]int, len(bundle.Entry))
	for i, entry := range bundle.Entry {
		if entry.Response == nil {
			continue
		}
		code, _, _ := strings.Cut(strings.TrimSpace(entry.Response.Status), " ")
		statuses[i], _ = strconv.Atoi(code)
	}

	return statuses, nil
}

// SearchPage splits a searchset bundle into its message payloads and the URL of the next page,
// empty on the last page.
func SearchPage(payload []byte) ([][]byte, string, error) {
	var bundle Bundle
	if err := json.Unmarshal(payload, &bundle); err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrNotMessageBundle, err)
	}
	if bundle.ResourceType != resourceBundle || bundle.Type != bundleSearchset {
		return nil, "", fmt.Errorf("%w: expected searchset, got %q", ErrNotMessageBundle, bundle.Type)
	}

	messages := make([][]byte, 0, len(bundle.Entry))
	for _, entry := range bundle.Entry {
		if len(entry.Resource) == 0 {
			continue
		}
		messages = append(messages, []byte(entry.Resource))
	}

	var next string
	for _, link := range bundle.Link {
		if link.Relation == "next" {
			next = link.URL
		}
	}

	return messages, next, nil
}
