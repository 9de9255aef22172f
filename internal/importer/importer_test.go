package importer

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/worq1337/parcer-sub000/internal/model"
)

const sampleBankOFX = `OFXHEADER:100
DATA:OFXSGML
VERSION:102
SECURITY:NONE
ENCODING:USASCII
CHARSET:1252
COMPRESSION:NONE
OLDFILEUID:NONE
NEWFILEUID:NONE

<OFX>
<SIGNONMSGSRSV1>
<SONRS>
<STATUS>
<CODE>0
<SEVERITY>INFO
</STATUS>
<DTSERVER>20240315120000[0:GMT]
<LANGUAGE>ENG
</SONRS>
</SIGNONMSGSRSV1>
<BANKMSGSRSV1>
<STMTTRNRS>
<TRNUID>1
<STATUS>
<CODE>0
<SEVERITY>INFO
</STATUS>
<STMTRS>
<CURDEF>USD
<BANKACCTFROM>
<BANKID>123456789
<ACCTID>1234567890
<ACCTTYPE>CHECKING
</BANKACCTFROM>
<BANKTRANLIST>
<DTSTART>20240101120000[0:GMT]
<DTEND>20240131120000[0:GMT]
<STMTTRN>
<TRNTYPE>DEBIT
<DTPOSTED>20240115120000[0:GMT]
<TRNAMT>-25.50
<FITID>2024011501
<NAME>STARBUCKS STORE #1234
</STMTTRN>
<STMTTRN>
<TRNTYPE>CREDIT
<DTPOSTED>20240120120000[0:GMT]
<TRNAMT>1250.00
<FITID>2024012001
<NAME>PAYROLL DEPOSIT
</STMTTRN>
</BANKTRANLIST>
<LEDGERBAL>
<BALAMT>1000.00
<DTASOF>20240131120000[0:GMT]
</LEDGERBAL>
</STMTRS>
</STMTTRNRS>
</BANKMSGSRSV1>
</OFX>`

func TestOFXParserParse(t *testing.T) {
	p := NewOFXParser()

	extractions, err := p.Parse(strings.NewReader(sampleBankOFX))
	require.NoError(t, err)
	require.Len(t, extractions, 2)

	debit := extractions[0]
	assert.Equal(t, "Оплата", debit.TransactionType)
	assert.Equal(t, -25.50, debit.Amount)
	require.NotNil(t, debit.IsIncome)
	assert.False(t, *debit.IsIncome)
	assert.Equal(t, "USD", debit.Currency)
	assert.Equal(t, "7890", debit.CardLast4)
	assert.Equal(t, "STARBUCKS STORE #1234", debit.Operator)
	assert.Equal(t, "import", debit.AddedVia)
	assert.Equal(t, "ofx", debit.Metadata["importer"])
	assert.Equal(t, "2024011501", debit.Metadata["fitid"])

	posted, ok := debit.DateTime.(time.Time)
	require.True(t, ok)
	assert.Equal(t, 2024, posted.Year())
	assert.Equal(t, time.January, posted.Month())

	credit := extractions[1]
	assert.Equal(t, "Пополнение", credit.TransactionType)
	require.NotNil(t, credit.IsIncome)
	assert.True(t, *credit.IsIncome)
}

func TestOFXParserMalformedFile(t *testing.T) {
	p := NewOFXParser()

	_, err := p.Parse(strings.NewReader("not an ofx file"))
	assert.Error(t, err)
}

func TestMapOFXType(t *testing.T) {
	assert.Equal(t, "Пополнение", mapOFXType("CREDIT"))
	assert.Equal(t, "Пополнение", mapOFXType("int"))
	assert.Equal(t, "Оплата", mapOFXType("POS"))
	assert.Equal(t, "Списание", mapOFXType("ATM"))
	assert.Equal(t, "Платеж", mapOFXType("PAYMENT"))
	assert.Equal(t, "Перевод", mapOFXType("XFER"))
	assert.Equal(t, "Операция", mapOFXType("OTHER"))
}

func TestCardFromAccount(t *testing.T) {
	assert.Equal(t, "7890", cardFromAccount("1234567890"))
	assert.Equal(t, "4321", cardFromAccount("ACCT-09-4321"))
	assert.Equal(t, "", cardFromAccount("AB1"))
}

func TestJSONLinesParserParse(t *testing.T) {
	input := `
# export 2025-04-06
{"datetime":"2025-04-06 10:30:00","transactionType":"Оплата","amount":50000,"isIncome":false,"currency":"UZS","cardLast4":"1234","operator":"Makro","source":"sms","rawText":"Spisanie, karta *1234"}

{"transactionType":"Пополнение","amount":150000,"isIncome":true,"cardLast4":"5678","operator":"CLICK"}
`

	p := NewJSONLinesParser()
	extractions, err := p.Parse(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, extractions, 2)

	assert.Equal(t, "2025-04-06 10:30:00", extractions[0].DateTime)
	assert.Equal(t, model.SourceSMS, extractions[0].Source)
	assert.Equal(t, "jsonl", extractions[0].Metadata["importer"])
	assert.Equal(t, 3, extractions[0].Metadata["line"])

	assert.Nil(t, extractions[1].DateTime)
	assert.Equal(t, model.SourceManual, extractions[1].Source)
}

func TestJSONLinesParserMalformedLineFailsWholeFile(t *testing.T) {
	input := `{"transactionType":"Оплата","amount":100}
{broken json`

	p := NewJSONLinesParser()
	_, err := p.Parse(strings.NewReader(input))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}

func TestJSONLinesParserEmptyFields(t *testing.T) {
	p := NewJSONLinesParser()
	_, err := p.Parse(strings.NewReader(`{"note":"nothing"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no transaction fields")
}
