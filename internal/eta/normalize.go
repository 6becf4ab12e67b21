package eta

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/MSBasha93/ETA-Invetcher/internal/invoice"
)

// maxFractionDigits is what time.Parse accepts after the seconds field.
const maxFractionDigits = 9

// timestampLayouts are tried in order. Layouts without a zone parse as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// ParseTimestamp parses registry timestamps: RFC 3339 with any number of
// fractional digits, with or without a zone designator.
func ParseTimestamp(s string) (time.Time, error) {
	s = trimFraction(strings.TrimSpace(s))
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: empty timestamp", ErrMalformed)
	}

	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}

	return time.Time{}, fmt.Errorf("%w: unparseable timestamp %q", ErrMalformed, s)
}

// trimFraction cuts the fractional seconds down to nine digits. The registry
// has been seen returning more.
func trimFraction(s string) string {
	dot := strings.IndexByte(s, '.')
	if dot < 0 {
		return s
	}

	end := dot + 1
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}

	if end-dot-1 <= maxFractionDigits {
		return s
	}

	return s[:dot+1+maxFractionDigits] + s[end:]
}

// optionalTimestamp parses s, returning the zero time when it is empty or
// unparseable.
func optionalTimestamp(s flexString) time.Time {
	if s == "" {
		return time.Time{}
	}

	t, err := ParseTimestamp(string(s))
	if err != nil {
		return time.Time{}
	}

	return t
}

func firstNonEmpty(values ...flexString) string {
	for _, v := range values {
		if v != "" {
			return string(v)
		}
	}

	return ""
}

func firstNonZero(values ...flexNumber) float64 {
	for _, v := range values {
		if v != 0 {
			return float64(v)
		}
	}

	return 0
}

// NormalizeDocument converts a detail payload into an invoice.Document.
// Header fields are read from the "document" sub-object when present
// (either as an object or as a JSON-encoded string) and from the top level
// otherwise. A payload without a uuid or received timestamp is malformed.
func NormalizeDocument(raw []byte) (*invoice.Document, error) {
	var top rawDetail
	if err := json.Unmarshal(raw, &top); err != nil {
		return nil, fmt.Errorf("%w: decoding detail: %w", ErrMalformed, err)
	}

	if top.UUID == "" {
		return nil, fmt.Errorf("%w: detail has no uuid", ErrMalformed)
	}

	header, err := documentHeader(&top)
	if err != nil {
		return nil, fmt.Errorf("%w: document %s: %w", ErrMalformed, top.UUID, err)
	}

	received, err := ParseTimestamp(firstNonEmpty(top.DateTimeReceived, top.DateTimeRecevied))
	if err != nil {
		return nil, fmt.Errorf("document %s: received timestamp: %w", top.UUID, err)
	}

	doc := &invoice.Document{
		UUID:           string(top.UUID),
		SubmissionUUID: string(top.SubmissionUUID),
		LongID:         string(top.LongID),
		InternalID:     firstNonEmpty(header.InternalID, header.InternalIDAlt, top.InternalID, top.InternalIDAlt),
		TypeName:       firstNonEmpty(header.DocumentType, top.TypeName),
		TypeVersion:    firstNonEmpty(header.DocumentTypeVersion, top.TypeVersionName),

		Issuer:   normalizeParty(header.Issuer, top.Issuer),
		Receiver: normalizeParty(header.Receiver, top.Receiver),

		IssuedAt:   optionalTimestamp(flexString(firstNonEmpty(header.DateTimeIssued, top.DateTimeIssued))),
		ReceivedAt: received,

		Status:       string(top.Status),
		StatusReason: string(top.StatusReason),

		CancellableUntil: optionalTimestamp(top.CancellableUntil),
		RejectableUntil:  optionalTimestamp(top.RejectableUntil),

		TotalAmount:         firstNonZero(top.TotalAmount, header.TotalAmount),
		NetAmount:           firstNonZero(top.NetAmount, header.NetAmount),
		TotalSales:          firstNonZero(top.SalesTotal, top.TotalSales, header.TotalSales),
		TotalDiscount:       firstNonZero(top.DiscountTotal, top.TotalDiscount, header.TotalDiscount),
		TotalItemsDiscount:  firstNonZero(top.TotalItemsDiscount, header.TotalItemsDiscount),
		ExtraDiscountAmount: firstNonZero(top.ExtraDiscountAmount, header.ExtraDiscountAmount),

		SalesOrderReference:    firstNonEmpty(top.SalesOrderReference, header.SalesOrderReference),
		PurchaseOrderReference: firstNonEmpty(top.PurchaseOrderReference, header.PurchaseOrderReference),

		Raw: append([]byte(nil), raw...),
	}

	taxes := top.TaxTotals
	if len(taxes) == 0 {
		taxes = header.TaxTotals
	}

	doc.TaxTotals = normalizeTaxes(taxes)

	lines := top.InvoiceLines
	if len(lines) == 0 {
		lines = header.InvoiceLines
	}

	for i := range lines {
		doc.Lines = append(doc.Lines, normalizeLine(&lines[i]))
	}

	return doc, nil
}

// documentHeader returns the nested header when the payload carries one,
// else the top-level fields.
func documentHeader(top *rawDetail) (*rawHeader, error) {
	nested := bytes.TrimSpace(top.Document)
	if len(nested) == 0 || bytes.Equal(nested, []byte("null")) {
		return &top.rawHeader, nil
	}

	if nested[0] == '"' {
		var encoded string
		if err := json.Unmarshal(nested, &encoded); err != nil {
			return nil, fmt.Errorf("decoding document string: %w", err)
		}

		if strings.TrimSpace(encoded) == "" {
			return &top.rawHeader, nil
		}

		nested = []byte(encoded)
	}

	var header rawHeader
	if err := json.Unmarshal(nested, &header); err != nil {
		return nil, fmt.Errorf("decoding document object: %w", err)
	}

	return &header, nil
}

func normalizeParty(primary, fallback *rawParty) invoice.Party {
	p := primary
	if p == nil {
		p = fallback
	}

	if p == nil {
		return invoice.Party{}
	}

	party := invoice.Party{
		ID:   strings.TrimSpace(string(p.ID)),
		Name: norm.NFC.String(strings.TrimSpace(string(p.Name))),
		Type: string(p.Type),
	}

	if p.Address != nil {
		party.Address = invoice.Address{
			BranchID:       string(p.Address.BranchID),
			Country:        string(p.Address.Country),
			Governate:      norm.NFC.String(string(p.Address.Governate)),
			RegionCity:     norm.NFC.String(string(p.Address.RegionCity)),
			Street:         norm.NFC.String(string(p.Address.Street)),
			BuildingNumber: string(p.Address.BuildingNumber),
		}
	}

	return party
}

func normalizeTaxes(raw []rawTax) []invoice.Tax {
	if len(raw) == 0 {
		return nil
	}

	n := min(len(raw), invoice.MaxTaxes)
	taxes := make([]invoice.Tax, 0, n)

	for _, t := range raw[:n] {
		taxes = append(taxes, invoice.Tax{Type: string(t.TaxType), Amount: float64(t.Amount)})
	}

	return taxes
}

func normalizeLine(l *rawLine) invoice.Line {
	line := invoice.Line{
		Description:  norm.NFC.String(string(l.Description)),
		ItemType:     string(l.ItemType),
		ItemCode:     string(l.ItemCode),
		InternalCode: string(l.InternalCode),
		UnitType:     string(l.UnitType),
		Quantity:     float64(l.Quantity),
		SalesTotal:   float64(l.SalesTotal),
		NetTotal:     float64(l.NetTotal),
		Total:        float64(l.Total),
		Taxes:        normalizeTaxes(l.LineTaxableItems),
	}

	if l.UnitValue != nil {
		line.UnitValueEGP = float64(l.UnitValue.AmountEGP)
	}

	if l.Discount != nil {
		line.DiscountRate = float64(l.Discount.Rate)
		line.DiscountAmount = float64(l.Discount.Amount)
	}

	return line
}
