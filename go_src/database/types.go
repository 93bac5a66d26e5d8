package database

// HolidayRecord is one stored closure interval of a calendar, in epoch milliseconds.
type HolidayRecord struct {
	ID        string `json:"id"`
	Calendar  string `json:"calendar"`
	Start     int64  `json:"start"`
	End       int64  `json:"end"`
	Reason    string `json:"reason,omitempty"`
	CreatedAt int64  `json:"created_at"`
}

// JournalEntry is a stored event row; Payload holds the JSON encoded event.
type JournalEntry struct {
	ID        string
	Calendar  string
	EventType string
	TradeDate int
	EmittedAt int64
	Payload   string
}
