package model

import "time"

// SynAlert is raised when a flow direction accumulates the configured number of unanswered SYNs.
type SynAlert struct {
	ID        string    `json:"id"`
	Flow      string    `json:"flow"`
	Direction string    `json:"direction"`
	Count     uint32    `json:"count"`
	Peer      Endpoint  `json:"peer"`
	Local     Endpoint  `json:"local"`
	Raised    time.Time `json:"raised"`
}

// Notifier defines a generic interface for sending notifications.
type Notifier interface {
	Send(subject, body string) error
}
