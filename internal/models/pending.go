package models

import "database/sql"

// PendingMessage is a stored message that has not been broadcast yet
type PendingMessage struct {
	ID      int64  `json:"id"`
	Source  string `json:"source"`
	Target  string `json:"target"`
	Message string `json:"message"`
	Local   bool   `json:"local"`
}

// PendingObject is a stored object awaiting its first broadcast, a beacon
// refresh or a kill broadcast
type PendingObject struct {
	ID          int64           `json:"id"`
	Name        string          `json:"name"`
	Source      string          `json:"source"`
	Latitude    float64         `json:"latitude"`
	Longitude   float64         `json:"longitude"`
	SymbolTable string          `json:"symbol_table"`
	SymbolCode  string          `json:"symbol_code"`
	Speed       float64         `json:"speed"`
	Course      int             `json:"course"`
	Altitude    sql.NullFloat64 `json:"altitude"`
	Status      string          `json:"status"`
	Kill        bool            `json:"kill"`
	Local       bool            `json:"local"`
	DecayID     string          `json:"decay_id"`
	BeaconSec   int64           `json:"beacon"`
	BroadcastTs int64           `json:"broadcast_ts"`
	ExpireTs    int64           `json:"expire_ts"`
}

// PendingPosition is a stored position report that has not been broadcast yet
type PendingPosition struct {
	ID          int64           `json:"id"`
	Source      string          `json:"source"`
	Latitude    float64         `json:"latitude"`
	Longitude   float64         `json:"longitude"`
	SymbolTable string          `json:"symbol_table"`
	SymbolCode  string          `json:"symbol_code"`
	Speed       float64         `json:"speed"`
	Course      int             `json:"course"`
	Altitude    sql.NullFloat64 `json:"altitude"`
	Status      string          `json:"status"`
	Local       bool            `json:"local"`
}
