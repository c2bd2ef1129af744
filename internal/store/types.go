package store

import "time"

type Campaign struct {
	ID              string
	Name            string
	MessageType     string
	MessageTemplate string
	MediaRef        string
	DelayMinSecs    int
	DelayMaxSecs    int
	Randomize       bool
	ScheduledAt     *time.Time
	Status          string
	Total           int
	Sent            int
	Failed          int
	Cursor          int
	ClaimedAt       *time.Time
	StartedAt       *time.Time
	CompletedAt     *time.Time
	LastError       string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type Recipient struct {
	ID            string
	CampaignID    string
	Destination   string
	DisplayName   string
	Vars          map[string]string
	Status        string
	ErrorClass    string
	ErrorMessage  string
	SentAt        *time.Time
	OrderPosition int
}

type RecipientInsert struct {
	ID            string
	Destination   string
	DisplayName   string
	Vars          map[string]string
	OrderPosition int
}

type CampaignInsert struct {
	ID              string
	Name            string
	MessageType     string
	MessageTemplate string
	MediaRef        string
	DelayMinSecs    int
	DelayMaxSecs    int
	Randomize       bool
	ScheduledAt     *time.Time
	Status          string
	Recipients      []RecipientInsert
	Now             time.Time
}

// RecipientSent records one successful delivery: the recipient row flips to
// sent and the campaign's counters, cursor and claim heartbeat advance in
// the same transaction.
type RecipientSent struct {
	CampaignID  string
	RecipientID string
	NextCursor  int
	Now         time.Time
}

type RecipientFailed struct {
	CampaignID   string
	RecipientID  string
	NextCursor   int
	ErrorClass   string
	ErrorMessage string
	Now          time.Time
}

type ReportCache struct {
	CampaignID  string
	TotalsJSON  []byte
	ErrorsJSON  []byte
	GeneratedAt time.Time
}
