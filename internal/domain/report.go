package domain

import "time"

// TicketScore is one ticket line of a settlement report.
type TicketScore struct {
	ID         uint64 `json:"id"`
	Owner      string `json:"owner"`
	Prediction string `json:"prediction"`
	Points     int    `json:"points"`
	Claimed    bool   `json:"claimed"`
}

// Report is the archived outcome of a completed pool. Amounts are decimal
// wei strings.
type Report struct {
	Pool           string        `json:"pool"`
	GeneratedAt    time.Time     `json:"generated_at"`
	Deadline       time.Time     `json:"deadline"`
	TicketPrice    string        `json:"ticket_price"`
	Collected      string        `json:"collected"`
	Prize          string        `json:"prize"`
	PrizePerWinner string        `json:"prize_per_winner"`
	MaxPoints      int           `json:"max_points"`
	Winners        []uint64      `json:"winners"`
	Fixtures       []Fixture     `json:"fixtures"`
	Tickets        []TicketScore `json:"tickets"`
	Signer         string        `json:"signer,omitempty"`
	Signature      string        `json:"signature,omitempty"`
}
