// Package extract dispatches ingestion input across the extraction
// strategies and normalizes their output into persisted-record shape.
package extract

import "strings"

// Canonical transaction type labels. Records store the localized label the
// bank apps themselves use.
const (
	TypePayment    = "Оплата"
	TypeTopUp      = "Пополнение"
	TypeWithdrawal = "Списание"
	TypeBill       = "Платеж"
	TypeTransfer   = "Перевод"
	TypeConversion = "Конверсия"
	TypeRefund     = "Возврат"
	TypeGeneric    = "Операция"
)

// typeInfo pairs a canonical label with its income direction. A nil income
// means the direction cannot be told from the type alone.
type typeInfo struct {
	income *bool
	label  string
}

var (
	incomeTrue  = true
	incomeFalse = false
)

// Transliterated and localized spellings seen in real notifications, all
// mapped onto the canonical labels.
var typeTable = map[string]typeInfo{
	"оплата":     {label: TypePayment, income: &incomeFalse},
	"покупка":    {label: TypePayment, income: &incomeFalse},
	"oplata":     {label: TypePayment, income: &incomeFalse},
	"pokupka":    {label: TypePayment, income: &incomeFalse},
	"пополнение": {label: TypeTopUp, income: &incomeTrue},
	"popolnenie": {label: TypeTopUp, income: &incomeTrue},
	"списание":   {label: TypeWithdrawal, income: &incomeFalse},
	"spisanie":   {label: TypeWithdrawal, income: &incomeFalse},
	"платеж":     {label: TypeBill, income: &incomeFalse},
	"платёж":     {label: TypeBill, income: &incomeFalse},
	"platezh":    {label: TypeBill, income: &incomeFalse},
	"перевод":    {label: TypeTransfer, income: &incomeFalse},
	"perevod":    {label: TypeTransfer, income: &incomeFalse},
	"конверсия":  {label: TypeConversion},
	"konversiya": {label: TypeConversion},
	"возврат":    {label: TypeRefund, income: &incomeTrue},
	"vozvrat":    {label: TypeRefund, income: &incomeTrue},
	"otmena":     {label: TypeRefund, income: &incomeTrue},
	"отмена":     {label: TypeRefund, income: &incomeTrue},
	"операция":   {label: TypeGeneric},
	"operaciya":  {label: TypeGeneric},
}

// MapTransactionType maps a provider- or bank-supplied type spelling onto
// the canonical label and, when the type implies one, the income direction.
// Unknown spellings fall back to the generic operation label with a nil
// direction so the sign comes from the amount itself.
func MapTransactionType(raw string) (string, *bool) {
	key := strings.ToLower(strings.TrimSpace(raw))
	if info, ok := typeTable[key]; ok {
		return info.label, info.income
	}
	return TypeGeneric, nil
}
