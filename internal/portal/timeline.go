package portal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

const timelinePathPrefix = "/apiproxy/mtp/detectionExperience/timeline"

// Timeline retries and delays. The timeline service rate-limits aggressively, so pages are separated
// by a randomized 3-10 second delay and each page is attempted up to 3 times with a randomized
// 5-10 second backoff before the failure is treated as terminal.
const (
	timelineAttempts      = 3
	timelineBackoffBase   = 5 * time.Second
	timelineBackoffSpan   = 5 * time.Second
	timelinePageDelayMin  = 3 * time.Second
	timelinePageDelaySpan = 7 * time.Second
)

// TimelineEvent represents one machine timeline event with the fields this client consumes
type TimelineEvent struct {
	ID          string          `json:"eventId"`
	Time        string          `json:"eventTime"`
	Type        string          `json:"eventType"`
	ActionType  string          `json:"actionType"`
	MachineID   string          `json:"machineId"`
	Description string          `json:"description"`
	Raw         json.RawMessage `json:"-"`
}

// UnmarshalJSON keeps the untouched payload next to the typed fields
func (event *TimelineEvent) UnmarshalJSON(data []byte) error {
	type plain TimelineEvent
	if err := json.Unmarshal(data, (*plain)(event)); err != nil {
		return err
	}
	event.Raw = append(json.RawMessage(nil), data...)
	return nil
}

type timelinePage struct {
	Items []TimelineEvent `json:"Items"`
	Prev  string          `json:"Prev"`
}

// TimelineOptions controls the machine timeline retrieval
type TimelineOptions struct {
	// From bounds how far back events are retrieved; required
	From time.Time
	// PageSize defaults to 1000
	PageSize int
}

// Timeline retrieves the event timeline of one machine, following the service's continuation links
// page by page. Depending on the range this takes a while; results are never cached.
func (client *Client) Timeline(ctx context.Context, machineID string, opts TimelineOptions) ([]TimelineEvent, error) {
	if machineID == "" {
		return nil, &ValidationError{Operation: "machine timeline", InvalidIDs: []string{"<empty machine ID>"}}
	}
	if opts.PageSize <= 0 {
		opts.PageSize = 1000
	}

	if err := client.sessions.Refresh(ctx); err != nil {
		return nil, err
	}

	query := url.Values{}
	query.Set("machineId", machineID)
	query.Set("fromDate", opts.From.UTC().Format(time.RFC3339Nano))
	query.Set("pageSize", strconv.Itoa(opts.PageSize))
	query.Set("doNotUseCache", "false")
	query.Set("forceUseCache", "false")

	path := fmt.Sprintf("%s/machines/%s/events/?%s", timelinePathPrefix, machineID, query.Encode())

	var events []TimelineEvent
	for {
		page, err := client.fetchTimelinePage(ctx, path)
		if err != nil {
			return nil, err
		}
		events = append(events, page.Items...)
		if page.Prev == "" {
			return events, nil
		}
		path = timelinePathPrefix + page.Prev

		client.sleep(timelinePageDelayMin + time.Duration(client.randInt(int(timelinePageDelaySpan)+1)))
	}
}

// fetchTimelinePage fetches one timeline page, retrying with a randomized backoff
func (client *Client) fetchTimelinePage(ctx context.Context, path string) (timelinePage, error) {
	var lastErr error
	for attempt := 1; attempt <= timelineAttempts; attempt++ {
		page, err := doLive[timelinePage](ctx, client, requestOptions{Path: path})
		if err == nil {
			return page, nil
		}
		lastErr = err
		if attempt < timelineAttempts {
			client.sleep(timelineBackoffBase + time.Duration(client.randInt(int(timelineBackoffSpan)+1)))
		}
	}
	return timelinePage{}, lastErr
}
