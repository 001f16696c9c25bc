package models

import "time"

// StockSnapshot is the daily inventory picture stored for reporting.
type StockSnapshot struct {
	Date           time.Time     `bson:"date" json:"date"`
	Ledgers        []StockReport `bson:"ledgers" json:"ledgers"`
	TotalAvailable int           `bson:"total_available" json:"total_available"`
	TotalReserved  int           `bson:"total_reserved" json:"total_reserved"`
	OpenRequests   int           `bson:"open_requests" json:"open_requests"`
	Alerts         []BloodType   `bson:"alerts" json:"alerts"`
	CreatedAt      time.Time     `bson:"created_at" json:"created_at"`
}
