package store

import (
	"fmt"
	"strings"
	"time"

	"github.com/MSBasha93/ETA-Invetcher/internal/invoice"
)

// existsChunk bounds the number of ids per existence query.
const existsChunk = 500

var documentColumns = []string{
	"uuid", "submission_uuid", "long_id", "internal_id", "type_name", "type_version",
	"issuer_id", "issuer_name", "issuer_type", "issuer_branch_id", "issuer_country",
	"issuer_governate", "issuer_region_city", "issuer_street", "issuer_building_number",
	"receiver_id", "receiver_name", "receiver_type", "receiver_branch_id", "receiver_country",
	"receiver_governate", "receiver_region_city", "receiver_street", "receiver_building_number",
	"date_time_issued", "date_time_received", "status", "status_reason",
	"cancellable_until", "rejectable_until",
	"total_amount", "net_amount", "total_sales", "total_discount",
	"total_items_discount", "extra_discount_amount",
	"sales_order_reference", "purchase_order_reference",
	"tax1_type", "tax1_amount", "tax2_type", "tax2_amount", "tax3_type", "tax3_amount",
	"tax4_type", "tax4_amount", "tax5_type", "tax5_amount",
	"raw", "synced_at",
}

var lineColumns = []string{
	"document_uuid", "line_no",
	"description", "item_type", "item_code", "internal_code", "unit_type",
	"quantity", "unit_value_egp", "sales_total", "net_total", "total",
	"discount_rate", "discount_amount",
	"tax1_type", "tax1_amount", "tax2_type", "tax2_amount", "tax3_type", "tax3_amount",
	"tax4_type", "tax4_amount", "tax5_type", "tax5_amount",
}

// dialect captures the differences between the two SQL backends.
type dialect struct {
	placeholder func(n int) string
	// timeArg converts a timestamp into a driver argument. Zero times map
	// to NULL.
	timeArg func(t time.Time) any
	rawArg  func(raw []byte) any
}

// statements holds the prepared SQL text for one partition.
type statements struct {
	upsertDoc    string
	deleteLines  string
	insertLine   string
	updateStatus string
	mutable      string
	count        string
}

func placeholders(d dialect, from, n int) string {
	ph := make([]string, n)
	for i := range n {
		ph[i] = d.placeholder(from + i)
	}

	return strings.Join(ph, ", ")
}

func buildStatements(d dialect, p invoice.Direction) (statements, error) {
	docs, lines, err := tableNames(p)
	if err != nil {
		return statements{}, err
	}

	updates := make([]string, 0, len(documentColumns)-1)
	for _, c := range documentColumns[1:] {
		updates = append(updates, c+" = excluded."+c)
	}

	final := fmt.Sprintf("'%s', '%s', '%s'", invoice.StatusCancelled, invoice.StatusRejected, invoice.StatusInvalid)

	return statements{
		upsertDoc: fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT(uuid) DO UPDATE SET %s",
			docs, strings.Join(documentColumns, ", "), placeholders(d, 1, len(documentColumns)),
			strings.Join(updates, ", ")),
		deleteLines: fmt.Sprintf("DELETE FROM %s WHERE document_uuid = %s", lines, d.placeholder(1)),
		insertLine: fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
			lines, strings.Join(lineColumns, ", "), placeholders(d, 1, len(lineColumns))),
		updateStatus: fmt.Sprintf("UPDATE %s SET status = %s, status_reason = %s, synced_at = %s WHERE uuid = %s",
			docs, d.placeholder(1), d.placeholder(2), d.placeholder(3), d.placeholder(4)),
		mutable: fmt.Sprintf("SELECT uuid, COALESCE(status, '') FROM %s "+
			"WHERE (cancellable_until > %s OR rejectable_until > %s) "+
			"AND COALESCE(status, '') NOT IN (%s) ORDER BY date_time_received, uuid",
			docs, d.placeholder(1), d.placeholder(2), final),
		count: "SELECT COUNT(*) FROM " + docs,
	}, nil
}

func taxArgs(taxes []invoice.Tax) []any {
	args := make([]any, 0, 2*invoice.MaxTaxes)

	for i := range invoice.MaxTaxes {
		if i < len(taxes) {
			args = append(args, taxes[i].Type, taxes[i].Amount)
			continue
		}

		args = append(args, nil, nil)
	}

	return args
}

func partyArgs(p invoice.Party) []any {
	return []any{
		p.ID, p.Name, p.Type, p.Address.BranchID, p.Address.Country,
		p.Address.Governate, p.Address.RegionCity, p.Address.Street, p.Address.BuildingNumber,
	}
}

// documentArgs returns the argument list matching documentColumns.
func documentArgs(d dialect, doc *invoice.Document, syncedAt time.Time) []any {
	args := []any{
		doc.UUID, doc.SubmissionUUID, doc.LongID, doc.InternalID, doc.TypeName, doc.TypeVersion,
	}
	args = append(args, partyArgs(doc.Issuer)...)
	args = append(args, partyArgs(doc.Receiver)...)
	args = append(args,
		d.timeArg(doc.IssuedAt), d.timeArg(doc.ReceivedAt), doc.Status, doc.StatusReason,
		d.timeArg(doc.CancellableUntil), d.timeArg(doc.RejectableUntil),
		doc.TotalAmount, doc.NetAmount, doc.TotalSales, doc.TotalDiscount,
		doc.TotalItemsDiscount, doc.ExtraDiscountAmount,
		doc.SalesOrderReference, doc.PurchaseOrderReference,
	)
	args = append(args, taxArgs(doc.TaxTotals)...)
	args = append(args, d.rawArg(doc.Raw), d.timeArg(syncedAt))

	return args
}

// lineArgs returns the argument list matching lineColumns.
func lineArgs(uuid string, n int, l *invoice.Line) []any {
	args := []any{
		uuid, n,
		l.Description, l.ItemType, l.ItemCode, l.InternalCode, l.UnitType,
		l.Quantity, l.UnitValueEGP, l.SalesTotal, l.NetTotal, l.Total,
		l.DiscountRate, l.DiscountAmount,
	}

	return append(args, taxArgs(l.Taxes)...)
}
