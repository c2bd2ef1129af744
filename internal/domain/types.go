package domain

import "time"

type CampaignStatus string

const (
	StatusScheduled CampaignStatus = "scheduled"
	StatusRunning   CampaignStatus = "running"
	StatusPaused    CampaignStatus = "paused"
	StatusCompleted CampaignStatus = "completed"
	StatusCancelled CampaignStatus = "cancelled"
	StatusFailed    CampaignStatus = "failed"
)

func (s CampaignStatus) String() string { return string(s) }

func (s CampaignStatus) IsValid() bool {
	switch s {
	case StatusScheduled, StatusRunning, StatusPaused, StatusCompleted, StatusCancelled, StatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether a campaign in this status will never run again.
func (s CampaignStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusFailed:
		return true
	}
	return false
}

type RecipientStatus string

const (
	RecipientPending RecipientStatus = "pending"
	RecipientSent    RecipientStatus = "sent"
	RecipientFailed  RecipientStatus = "failed"
)

type MessageType string

const (
	MessageText  MessageType = "text"
	MessageMedia MessageType = "media"
)

type MessageDef struct {
	Type         MessageType `json:"type"`
	TextTemplate string      `json:"textTemplate"`
	MediaRef     string      `json:"mediaRef,omitempty"`
}

type Pacing struct {
	DelayMinSecs int  `json:"delayMinSecs"`
	DelayMaxSecs int  `json:"delayMaxSecs"`
	Randomize    bool `json:"randomize"`
}

type SubmitRecipient struct {
	Destination string            `json:"destination"`
	DisplayName string            `json:"displayName,omitempty"`
	Vars        map[string]string `json:"vars,omitempty"`
}

type SubmitCampaignRequest struct {
	Name        string            `json:"name"`
	Message     MessageDef        `json:"message"`
	Pacing      Pacing            `json:"pacing"`
	ScheduledAt *time.Time        `json:"scheduledAt,omitempty"`
	Recipients  []SubmitRecipient `json:"recipients"`
}

type SubmitResponse struct {
	CampaignID string `json:"campaignId"`
	Status     string `json:"status"`
}

type Progress struct {
	CampaignID                string `json:"campaignId"`
	Status                    string `json:"status"`
	Total                     int    `json:"total"`
	Sent                      int    `json:"sent"`
	Failed                    int    `json:"failed"`
	CurrentRecipient          string `json:"currentRecipient,omitempty"`
	EstimatedSecondsRemaining int64  `json:"estimatedSecondsRemaining"`
}

type CampaignReport struct {
	CampaignID   string         `json:"campaignId"`
	Name         string         `json:"name"`
	Status       string         `json:"status"`
	Total        int            `json:"total"`
	Sent         int            `json:"sent"`
	Failed       int            `json:"failed"`
	SuccessRate  float64        `json:"successRate"`
	StartedAt    *time.Time     `json:"startedAt,omitempty"`
	CompletedAt  *time.Time     `json:"completedAt,omitempty"`
	DurationSecs *float64       `json:"durationSecs,omitempty"`
	ErrorsByType map[string]int `json:"errorsByType"`
	GeneratedAt  time.Time      `json:"generatedAt"`
}
