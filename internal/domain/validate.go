package domain

import (
	"fmt"
	"sort"
	"strings"
)

// ValidationError collects per-field submission problems. A campaign that
// fails validation is never created.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "invalid campaign: " + strings.Join(parts, "; ")
}

func (e *ValidationError) add(field, msg string) {
	if e.Fields == nil {
		e.Fields = map[string]string{}
	}
	if _, seen := e.Fields[field]; !seen {
		e.Fields[field] = msg
	}
}

func (r SubmitCampaignRequest) Validate() error {
	var ve ValidationError

	if strings.TrimSpace(r.Name) == "" {
		ve.add("name", "required")
	}

	switch r.Message.Type {
	case MessageText:
		if r.Message.MediaRef != "" {
			ve.add("message.mediaRef", "only allowed for media messages")
		}
	case MessageMedia:
		if r.Message.MediaRef == "" {
			ve.add("message.mediaRef", "required for media messages")
		}
	default:
		ve.add("message.type", "must be text or media")
	}
	if strings.TrimSpace(r.Message.TextTemplate) == "" {
		ve.add("message.textTemplate", "required")
	} else if strings.Count(r.Message.TextTemplate, "{{") != strings.Count(r.Message.TextTemplate, "}}") {
		ve.add("message.textTemplate", "unbalanced placeholder braces")
	}

	if r.Pacing.DelayMinSecs < 0 {
		ve.add("pacing.delayMinSecs", "must be >= 0")
	}
	if r.Pacing.DelayMaxSecs < r.Pacing.DelayMinSecs {
		ve.add("pacing.delayMaxSecs", "must be >= delayMinSecs")
	}

	if len(r.Recipients) == 0 {
		ve.add("recipients", "at least one recipient required")
	}
	seen := make(map[string]struct{}, len(r.Recipients))
	for i, rec := range r.Recipients {
		dest := strings.TrimSpace(rec.Destination)
		if dest == "" {
			ve.add(fmt.Sprintf("recipients[%d].destination", i), "required")
			continue
		}
		if _, dup := seen[dest]; dup {
			ve.add(fmt.Sprintf("recipients[%d].destination", i), "duplicate destination "+dest)
			continue
		}
		seen[dest] = struct{}{}
	}

	if len(ve.Fields) > 0 {
		return &ve
	}
	return nil
}
