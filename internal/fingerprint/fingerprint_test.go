package fingerprint

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseInput() Input {
	return Input{
		DateTime:  "2025-04-06 10:30:15",
		Amount:    50000,
		CardLast4: "1234",
		Operator:  "Korzinka.uz",
		Type:      "Оплата",
	}
}

func TestComputeDeterministic(t *testing.T) {
	a := Compute(baseInput())
	b := Compute(baseInput())

	require.NotEmpty(t, a)
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}

func TestComputeMinuteBucketRounding(t *testing.T) {
	// Both timestamps round to 10:30 even though they differ by 40 seconds.
	early := baseInput()
	early.DateTime = "2025-04-06 10:29:50"
	late := baseInput()
	late.DateTime = "2025-04-06 10:30:20"

	assert.Equal(t, Compute(early), Compute(late))

	// 10:30:40 rounds up to 10:31 and must not collide.
	next := baseInput()
	next.DateTime = "2025-04-06 10:30:40"
	assert.NotEqual(t, Compute(early), Compute(next))
}

func TestComputeFieldSensitivity(t *testing.T) {
	base := Compute(baseInput())

	mutations := map[string]func(*Input){
		"amount":   func(in *Input) { in.Amount = 50000.01 },
		"card":     func(in *Input) { in.CardLast4 = "4321" },
		"operator": func(in *Input) { in.Operator = "Makro" },
		"type":     func(in *Input) { in.Type = "Пополнение" },
		"datetime": func(in *Input) { in.DateTime = "2025-04-06 10:35:00" },
	}

	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			in := baseInput()
			mutate(&in)
			assert.NotEqual(t, base, Compute(in))
		})
	}
}

func TestComputeNormalizationInsensitivity(t *testing.T) {
	base := Compute(baseInput())

	in := baseInput()
	in.Operator = "  KORZINKA.UZ "
	in.Type = "оплата"
	in.CardLast4 = "*1234"
	assert.Equal(t, base, Compute(in))

	// Full card numbers reduce to the same last four.
	in = baseInput()
	in.CardLast4 = "8600 1234 5678 1234"
	assert.Equal(t, base, Compute(in))
}

func TestComputeMissingIdentityFields(t *testing.T) {
	noCard := baseInput()
	noCard.CardLast4 = ""
	assert.Empty(t, Compute(noCard))

	noDigits := baseInput()
	noDigits.CardLast4 = "****"
	assert.Empty(t, Compute(noDigits))

	badAmount := baseInput()
	badAmount.Amount = math.NaN()
	assert.Empty(t, Compute(badAmount))

	infAmount := baseInput()
	infAmount.Amount = math.Inf(1)
	assert.Empty(t, Compute(infAmount))
}

func TestNormalizeHelpers(t *testing.T) {
	assert.Equal(t, "50000.00", NormalizeAmount(50000))
	assert.Equal(t, "50000.50", NormalizeAmount(50000.5))
	assert.Equal(t, "1234", NormalizeCard("*  12-34"))
	assert.Equal(t, "korzinka.uz", NormalizeOperator("  Korzinka.UZ  "))
	assert.Equal(t, "uzum bank", NormalizeOperator("Uzum\t Bank"))
}
