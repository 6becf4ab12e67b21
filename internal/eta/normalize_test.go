package eta

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{"2024-03-05T10:00:00Z", time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)},
		{"2024-03-05T10:00:00.5Z", time.Date(2024, 3, 5, 10, 0, 0, 500000000, time.UTC)},
		{"2024-03-05T10:00:00.1234567Z", time.Date(2024, 3, 5, 10, 0, 0, 123456700, time.UTC)},
		{"2024-03-05T10:00:00.123456789123Z", time.Date(2024, 3, 5, 10, 0, 0, 123456789, time.UTC)},
		{"2024-03-05T12:00:00+02:00", time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)},
		{"2024-03-05T10:00:00", time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)},
		{"2024-03-05T10:00:00.25", time.Date(2024, 3, 5, 10, 0, 0, 250000000, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTimestamp(tt.in)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %s", got)
		})
	}

	for _, bad := range []string{"", "yesterday", "2024-13-05T10:00:00Z"} {
		_, err := ParseTimestamp(bad)
		assert.ErrorIs(t, err, ErrMalformed, bad)
	}
}

const nestedDetail = `{
  "uuid": "DOC-1",
  "submissionUUID": "SUB-1",
  "longId": "LONG-1",
  "status": "Valid",
  "documentStatusReason": "",
  "dateTimeRecevied": "2024-03-05T10:15:00.1234567Z",
  "canbeCancelledUntil": "2024-03-08T10:15:00Z",
  "canbeRejectedUntil": "2024-03-09T10:15:00Z",
  "totalAmount": 1140,
  "netAmount": "1000.00",
  "totalSales": 1000,
  "totalDiscount": 0,
  "taxTotals": [{"taxType": "T1", "amount": 140}],
  "document": {
    "internalId": "INV-7",
    "documentType": "I",
    "documentTypeVersion": "1.0",
    "dateTimeIssued": "2024-03-05T09:00:00Z",
    "issuer": {"id": 123456789, "name": "Café Co", "type": "B",
               "address": {"governate": "Cairo", "street": "Tahrir", "buildingNumber": "5"}},
    "receiver": {"id": "987654321", "name": "Buyer", "type": "B"},
    "invoiceLines": [{
      "description": "Widget",
      "itemType": "GS1",
      "itemCode": "100",
      "internalCode": "W-1",
      "quantity": 2,
      "unitType": "EA",
      "unitValue": {"amountEGP": 500},
      "salesTotal": 1000,
      "netTotal": 1000,
      "total": 1140,
      "discount": {"rate": 0, "amount": 0},
      "lineTaxableItems": [
        {"taxType": "T1", "amount": 140},
        {"taxType": "T2", "amount": 1},
        {"taxType": "T3", "amount": 2},
        {"taxType": "T4", "amount": 3},
        {"taxType": "T5", "amount": 4},
        {"taxType": "T6", "amount": 5}
      ]
    }]
  }
}`

func TestNormalizeDocument_Nested(t *testing.T) {
	doc, err := NormalizeDocument([]byte(nestedDetail))
	require.NoError(t, err)

	assert.Equal(t, "DOC-1", doc.UUID)
	assert.Equal(t, "SUB-1", doc.SubmissionUUID)
	assert.Equal(t, "LONG-1", doc.LongID)
	assert.Equal(t, "INV-7", doc.InternalID)
	assert.Equal(t, "I", doc.TypeName)
	assert.Equal(t, "1.0", doc.TypeVersion)
	assert.Equal(t, time.Date(2024, 3, 5, 10, 15, 0, 123456700, time.UTC), doc.ReceivedAt)
	assert.Equal(t, time.Date(2024, 3, 5, 9, 0, 0, 0, time.UTC), doc.IssuedAt)
	assert.Equal(t, time.Date(2024, 3, 9, 10, 15, 0, 0, time.UTC), doc.MutationDeadline())

	assert.Equal(t, "123456789", doc.Issuer.ID)
	assert.Equal(t, "Café Co", doc.Issuer.Name, "issuer name is NFC-normalized")
	assert.Equal(t, "Tahrir", doc.Issuer.Address.Street)
	assert.Equal(t, "987654321", doc.Receiver.ID)

	assert.InDelta(t, 1140, doc.TotalAmount, 0.001)
	assert.InDelta(t, 1000, doc.NetAmount, 0.001)
	require.Len(t, doc.TaxTotals, 1)
	assert.Equal(t, "T1", doc.TaxTotals[0].Type)

	require.Len(t, doc.Lines, 1)
	line := doc.Lines[0]
	assert.Equal(t, "Widget", line.Description)
	assert.InDelta(t, 2, line.Quantity, 0.001)
	assert.InDelta(t, 500, line.UnitValueEGP, 0.001)
	assert.Len(t, line.Taxes, 5, "line taxes are capped")

	assert.JSONEq(t, nestedDetail, string(doc.Raw))
}

func TestNormalizeDocument_Flat(t *testing.T) {
	raw := `{"uuid":"DOC-2","internalID":"INV-8","typeName":"C","status":"Cancelled",
		"documentStatusReason":"duplicate","dateTimeReceived":"2024-03-05T10:00:00Z",
		"issuer":{"id":"1","name":"Seller"},"invoiceLines":[{"description":"x","quantity":"3"}]}`

	doc, err := NormalizeDocument([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, "INV-8", doc.InternalID)
	assert.Equal(t, "C", doc.TypeName)
	assert.Equal(t, "Cancelled", doc.Status)
	assert.Equal(t, "duplicate", doc.StatusReason)
	assert.Equal(t, "Seller", doc.Issuer.Name)
	require.Len(t, doc.Lines, 1)
	assert.InDelta(t, 3, doc.Lines[0].Quantity, 0.001)
	assert.True(t, doc.MutationDeadline().IsZero())
}

func TestNormalizeDocument_DocumentAsString(t *testing.T) {
	raw := `{"uuid":"DOC-3","dateTimeReceived":"2024-03-05T10:00:00Z",
		"document":"{\"internalID\":\"INV-9\",\"issuer\":{\"id\":\"42\"}}"}`

	doc, err := NormalizeDocument([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, "INV-9", doc.InternalID)
	assert.Equal(t, "42", doc.Issuer.ID)
}

func TestNormalizeDocument_Malformed(t *testing.T) {
	tests := map[string]string{
		"not json":         `<html>`,
		"array":            `[]`,
		"no uuid":          `{"dateTimeReceived":"2024-03-05T10:00:00Z"}`,
		"no received time": `{"uuid":"X"}`,
		"bad received":     `{"uuid":"X","dateTimeReceived":"soon"}`,
		"bad nested":       `{"uuid":"X","dateTimeReceived":"2024-03-05T10:00:00Z","document":"{broken"}`,
		"object as id":     `{"uuid":{"a":1},"dateTimeReceived":"2024-03-05T10:00:00Z"}`,
	}

	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := NormalizeDocument([]byte(raw))
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}
