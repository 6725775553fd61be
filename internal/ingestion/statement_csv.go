package ingestion

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/pimarket/reconciler/internal/domain"
)

// statementColumns are the columns a statement export must carry. They use
// the webhook field names so one row reads like one notification.
var statementColumns = []string{"id", "transactionDate", "transferType", "transferAmount", "content"}

// StatementRow is one parsed statement line, or the reason it was rejected.
type StatementRow struct {
	Line         int
	Notification domain.TransferNotification
	Err          error
}

// ParseStatementCSV parses a gateway statement export.
//
// Expected header (any order, extra columns ignored):
//
//	id,gateway,transactionDate,accountNumber,transferType,transferAmount,content,referenceCode
//
// A malformed header fails the whole file; a malformed row is reported in its
// StatementRow and the rest of the file is still parsed.
func ParseStatementCSV(data []byte) ([]StatementRow, error) {
	reader := csv.NewReader(strings.NewReader(string(data)))
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.TrimSpace(h)] = i
	}
	for _, col := range statementColumns {
		if _, ok := idx[col]; !ok {
			return nil, fmt.Errorf("missing column %q", col)
		}
	}

	field := func(row []string, name string) string {
		i, ok := idx[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	var rows []StatementRow
	lineNum := 1
	for {
		lineNum++
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNum, err)
		}

		id, err := strconv.ParseInt(field(row, "id"), 10, 64)
		if err != nil {
			rows = append(rows, StatementRow{Line: lineNum, Err: malformed("line %d id: %v", lineNum, err)})
			continue
		}

		p := webhookPayload{
			ID:              id,
			Gateway:         field(row, "gateway"),
			TransactionDate: field(row, "transactionDate"),
			AccountNumber:   field(row, "accountNumber"),
			TransferType:    field(row, "transferType"),
			TransferAmount:  json.Number(field(row, "transferAmount")),
			Content:         field(row, "content"),
			ReferenceCode:   field(row, "referenceCode"),
		}
		n, err := p.toNotification()
		rows = append(rows, StatementRow{Line: lineNum, Notification: n, Err: err})
	}
	return rows, nil
}
