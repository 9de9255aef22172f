// Package importer parses bank statement files into extractions that flow
// through the same normalize/dedup pipeline as live messages.
package importer

import (
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"

	"github.com/aclindsa/ofxgo"

	"github.com/worq1337/parcer-sub000/internal/model"
)

// OFXParser reads OFX/QFX statement files.
type OFXParser struct{}

// NewOFXParser creates an OFX statement parser.
func NewOFXParser() *OFXParser {
	return &OFXParser{}
}

var (
	severityRe = regexp.MustCompile(`(?i)<SEVERITY>(Info|Warn|Error)</SEVERITY>`)
	openTagRe  = regexp.MustCompile(`(?m)^(\s*<[A-Z][A-Z0-9._]*[A-Z0-9])$`)
)

// preprocess fixes formatting quirks real banks ship: mixed-case severity
// values and SGML tags missing their closing bracket.
func (p *OFXParser) preprocess(content string) string {
	content = strings.TrimLeft(content, " \t\r\n")
	content = severityRe.ReplaceAllStringFunc(content, strings.ToUpper)
	content = openTagRe.ReplaceAllString(content, "$1>")
	return content
}

// Parse returns one extraction per statement transaction, bank and credit
// card sections both.
func (p *OFXParser) Parse(reader io.Reader) ([]model.Extraction, error) {
	content, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read OFX file: %w", err)
	}

	resp, err := ofxgo.ParseResponse(strings.NewReader(p.preprocess(string(content))))
	if err != nil {
		return nil, fmt.Errorf("failed to parse OFX file: %w", err)
	}

	var extractions []model.Extraction

	for _, msg := range resp.Bank {
		stmt, ok := msg.(*ofxgo.StatementResponse)
		if !ok || stmt.BankTranList == nil {
			continue
		}
		accountID := string(stmt.BankAcctFrom.AcctID)
		currency := strings.TrimSpace(stmt.CurDef.String())
		for _, tx := range stmt.BankTranList.Transactions {
			extractions = append(extractions, p.convert(tx, accountID, currency))
		}
	}

	for _, msg := range resp.CreditCard {
		stmt, ok := msg.(*ofxgo.CCStatementResponse)
		if !ok || stmt.BankTranList == nil {
			continue
		}
		accountID := string(stmt.CCAcctFrom.AcctID)
		currency := strings.TrimSpace(stmt.CurDef.String())
		for _, tx := range stmt.BankTranList.Transactions {
			extractions = append(extractions, p.convert(tx, accountID, currency))
		}
	}

	slog.Info("parsed OFX file", "transactions", len(extractions))
	return extractions, nil
}

func (p *OFXParser) convert(tx ofxgo.Transaction, accountID, currency string) model.Extraction {
	amount, _ := tx.TrnAmt.Float64()
	income := amount > 0

	label := mapOFXType(fmt.Sprintf("%v", tx.TrnType))

	return model.Extraction{
		DateTime:        tx.DtPosted.Time,
		TransactionType: label,
		Amount:          amount,
		IsIncome:        &income,
		Currency:        currency,
		CardLast4:       cardFromAccount(accountID),
		Operator:        merchantName(tx),
		RawText:         strings.TrimSpace(string(tx.Name) + " " + string(tx.Memo)),
		Source:          model.SourceManual,
		AddedVia:        "import",
		Metadata: map[string]any{
			"importer": "ofx",
			"fitid":    string(tx.FiTID),
			"account":  accountID,
		},
	}
}

// mapOFXType maps the OFX transaction-type enum onto the localized labels.
func mapOFXType(trnType string) string {
	switch strings.ToUpper(trnType) {
	case "CREDIT", "DEP", "DIRECTDEP", "INT", "DIV":
		return "Пополнение"
	case "PAYMENT", "DIRECTDEBIT", "REPEATPMT":
		return "Платеж"
	case "XFER":
		return "Перевод"
	case "ATM", "CASH", "FEE", "SRVCHG", "CHECK":
		return "Списание"
	case "DEBIT", "POS":
		return "Оплата"
	default:
		return "Операция"
	}
}

// merchantName prefers the payee record over the raw statement name, and
// falls back to the memo when the name is generic.
func merchantName(tx ofxgo.Transaction) string {
	if tx.Payee != nil && tx.Payee.Name != "" {
		return string(tx.Payee.Name)
	}

	name := strings.TrimSpace(string(tx.Name))
	if tx.Memo != "" && isGenericDescription(name) {
		name = strings.TrimSpace(string(tx.Memo))
	}
	return name
}

func isGenericDescription(name string) bool {
	switch strings.ToUpper(name) {
	case "", "DEBIT", "CREDIT", "PAYMENT", "PURCHASE", "POS PURCHASE", "WITHDRAWAL":
		return true
	default:
		return false
	}
}

// cardFromAccount keeps the trailing digits of an account or card number.
func cardFromAccount(accountID string) string {
	var digits []rune
	for _, r := range accountID {
		if r >= '0' && r <= '9' {
			digits = append(digits, r)
		}
	}
	if len(digits) < 4 {
		return ""
	}
	return string(digits[len(digits)-4:])
}
