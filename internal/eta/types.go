package eta

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// flexString decodes a JSON string, number or boolean into its text form.
// The registry is inconsistent about quoting ids and type codes.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}

	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}

		*f = flexString(s)

		return nil
	}

	if b[0] == '{' || b[0] == '[' {
		return fmt.Errorf("expected scalar, got %s", b[:1])
	}

	*f = flexString(b)

	return nil
}

// flexNumber decodes a JSON number, a numeric string, or null.
type flexNumber float64

func (f *flexNumber) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = 0
		return nil
	}

	s := string(b)
	if b[0] == '"' {
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}

		s = strings.TrimSpace(s)
		if s == "" {
			*f = 0
			return nil
		}
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid number %q", s)
	}

	*f = flexNumber(v)

	return nil
}

type rawAddress struct {
	BranchID       flexString `json:"branchID"`
	Country        flexString `json:"country"`
	Governate      flexString `json:"governate"`
	RegionCity     flexString `json:"regionCity"`
	Street         flexString `json:"street"`
	BuildingNumber flexString `json:"buildingNumber"`
}

type rawParty struct {
	ID      flexString  `json:"id"`
	Name    flexString  `json:"name"`
	Type    flexString  `json:"type"`
	Address *rawAddress `json:"address"`
}

type rawTax struct {
	TaxType flexString `json:"taxType"`
	Amount  flexNumber `json:"amount"`
}

type rawLine struct {
	Description  flexString `json:"description"`
	ItemType     flexString `json:"itemType"`
	ItemCode     flexString `json:"itemCode"`
	InternalCode flexString `json:"internalCode"`
	UnitType     flexString `json:"unitType"`
	Quantity     flexNumber `json:"quantity"`
	UnitValue    *struct {
		AmountEGP flexNumber `json:"amountEGP"`
	} `json:"unitValue"`
	SalesTotal flexNumber `json:"salesTotal"`
	NetTotal   flexNumber `json:"netTotal"`
	Total      flexNumber `json:"total"`
	Discount   *struct {
		Rate   flexNumber `json:"rate"`
		Amount flexNumber `json:"amount"`
	} `json:"discount"`
	LineTaxableItems []rawTax `json:"lineTaxableItems"`
}

// rawHeader holds the fields that appear either under "document" or at the
// top level of a detail payload.
type rawHeader struct {
	InternalID          flexString `json:"internalID"`
	InternalIDAlt       flexString `json:"internalId"`
	DocumentType        flexString `json:"documentType"`
	DocumentTypeVersion flexString `json:"documentTypeVersion"`
	DateTimeIssued      flexString `json:"dateTimeIssued"`
	Issuer              *rawParty  `json:"issuer"`
	Receiver            *rawParty  `json:"receiver"`

	SalesOrderReference    flexString `json:"salesOrderReference"`
	PurchaseOrderReference flexString `json:"purchaseOrderReference"`

	TotalAmount         flexNumber `json:"totalAmount"`
	NetAmount           flexNumber `json:"netAmount"`
	TotalSales          flexNumber `json:"totalSalesAmount"`
	TotalDiscount       flexNumber `json:"totalDiscountAmount"`
	TotalItemsDiscount  flexNumber `json:"totalItemsDiscountAmount"`
	ExtraDiscountAmount flexNumber `json:"extraDiscountAmount"`

	TaxTotals    []rawTax  `json:"taxTotals"`
	InvoiceLines []rawLine `json:"invoiceLines"`
}

// rawDetail is the top level of a detail payload.
type rawDetail struct {
	UUID             flexString      `json:"uuid"`
	SubmissionUUID   flexString      `json:"submissionUUID"`
	LongID           flexString      `json:"longId"`
	TypeName         flexString      `json:"typeName"`
	TypeVersionName  flexString      `json:"typeVersionName"`
	DateTimeReceived flexString      `json:"dateTimeReceived"`
	DateTimeRecevied flexString      `json:"dateTimeRecevied"`
	Status           flexString      `json:"status"`
	StatusReason     flexString      `json:"documentStatusReason"`
	CancellableUntil flexString      `json:"canbeCancelledUntil"`
	RejectableUntil  flexString      `json:"canbeRejectedUntil"`
	SalesTotal       flexNumber      `json:"totalSales"`
	DiscountTotal    flexNumber      `json:"totalDiscount"`
	Document         json.RawMessage `json:"document"`

	rawHeader
}

// rawSummary is one search result.
type rawSummary struct {
	UUID             flexString `json:"uuid"`
	DateTimeReceived flexString `json:"dateTimeReceived"`
	DateTimeRecevied flexString `json:"dateTimeRecevied"`
}

type searchResponse struct {
	Result   []rawSummary `json:"result"`
	Metadata struct {
		ContinuationToken string `json:"continuationToken"`
	} `json:"metadata"`
}
