package models

import "time"

// NotificationKind categorizes the signals the engine raises for the
// notification collaborator. Delivery happens elsewhere.
type NotificationKind string

const (
	NotifyStockAlert         NotificationKind = "stock_alert"
	NotifyUnitsExpired       NotificationKind = "units_expired"
	NotifyRequestExpired     NotificationKind = "request_expired"
	NotifyReservationRevoked NotificationKind = "reservation_revoked"
)

// Notification is a signal that a human should be told about something.
type Notification struct {
	Kind      NotificationKind  `json:"kind"`
	BloodType BloodType         `json:"blood_type,omitempty"`
	Health    StockHealth       `json:"health,omitempty"`
	Previous  StockHealth       `json:"previous,omitempty"`
	Available int               `json:"available,omitempty"`
	Count     int               `json:"count,omitempty"`
	ByType    map[BloodType]int `json:"by_type,omitempty"`
	RequestID string            `json:"request_id,omitempty"`
	UnitIDs   []string          `json:"unit_ids,omitempty"`
	Message   string            `json:"message"`
	RaisedAt  time.Time         `json:"raised_at"`
}
