// Package invoice defines the normalized document types shared by the API
// client, the storage backends and the sync engine. It is a leaf package:
// raw payload shapes never leave internal/eta, and everything downstream
// works with these types only.
package invoice

import (
	"fmt"
	"strings"
	"time"
)

// Direction is the search direction filter and, at the same time, the
// storage partition a document lands in.
type Direction int

const (
	// DirectionUnknown is only seen on retry entries persisted without a
	// direction. The engine infers the partition from the issuer in that case.
	DirectionUnknown Direction = iota
	Inbound
	Outbound
)

// Directions is the fixed processing order for every day window.
var Directions = []Direction{Inbound, Outbound}

// String returns the registry's spelling of the direction.
func (d Direction) String() string {
	switch d {
	case Inbound:
		return "Received"
	case Outbound:
		return "Sent"
	default:
		return "Unknown"
	}
}

// ParseDirection accepts the registry spelling as well as the partition
// names used in config and logs.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "received", "inbound", "in":
		return Inbound, nil
	case "sent", "outbound", "out":
		return Outbound, nil
	case "", "unknown":
		return DirectionUnknown, nil
	default:
		return DirectionUnknown, fmt.Errorf("invoice: unknown direction %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Direction) UnmarshalText(b []byte) error {
	parsed, err := ParseDirection(string(b))
	if err != nil {
		return err
	}

	*d = parsed

	return nil
}

// Status values the registry reports. Valid is the only non-final status a
// stored document can move away from.
const (
	StatusValid     = "Valid"
	StatusSubmitted = "Submitted"
	StatusCancelled = "Cancelled"
	StatusRejected  = "Rejected"
	StatusInvalid   = "Invalid"
)

// IsFinalStatus reports whether a document in this status can no longer
// change on the registry side.
func IsFinalStatus(status string) bool {
	switch status {
	case StatusCancelled, StatusRejected, StatusInvalid:
		return true
	default:
		return false
	}
}

// Summary is one search hit.
type Summary struct {
	UUID       string
	ReceivedAt time.Time
	Direction  Direction
}

// Address is a party's postal address.
type Address struct {
	BranchID       string
	Country        string
	Governate      string
	RegionCity     string
	Street         string
	BuildingNumber string
}

// Party is the issuer or receiver of a document.
type Party struct {
	ID      string
	Name    string
	Type    string
	Address Address
}

// Tax is one tax total, either for the whole document or for a line.
type Tax struct {
	Type   string
	Amount float64
}

// MaxTaxes caps how many tax totals are kept per header and per line.
const MaxTaxes = 5

// Line is one invoice line item.
type Line struct {
	Description    string
	ItemType       string
	ItemCode       string
	InternalCode   string
	UnitType       string
	Quantity       float64
	UnitValueEGP   float64
	SalesTotal     float64
	NetTotal       float64
	Total          float64
	DiscountRate   float64
	DiscountAmount float64
	Taxes          []Tax
}

// Document is the normalized detail record.
type Document struct {
	UUID           string
	SubmissionUUID string
	LongID         string
	InternalID     string
	TypeName       string
	TypeVersion    string

	Issuer   Party
	Receiver Party

	IssuedAt   time.Time
	ReceivedAt time.Time

	Status       string
	StatusReason string

	// Zero when the registry did not report a deadline.
	CancellableUntil time.Time
	RejectableUntil  time.Time

	TotalAmount         float64
	NetAmount           float64
	TotalSales          float64
	TotalDiscount       float64
	TotalItemsDiscount  float64
	ExtraDiscountAmount float64

	SalesOrderReference    string
	PurchaseOrderReference string

	TaxTotals []Tax
	Lines     []Line

	// Raw is the payload exactly as received.
	Raw []byte
}

// MutationDeadline returns the latest moment the document's status may still
// change, or the zero time if neither deadline is known.
func (d *Document) MutationDeadline() time.Time {
	if d.RejectableUntil.After(d.CancellableUntil) {
		return d.RejectableUntil
	}

	return d.CancellableUntil
}

// RetryEntry is one id whose detail fetch failed in an earlier run.
type RetryEntry struct {
	UUID      string    `toml:"uuid"`
	Direction Direction `toml:"direction"`
}
