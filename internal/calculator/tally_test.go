package calculator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmynk/tallyledger/internal/models"
)

func qs(values ...float64) []models.Quantity {
	out := make([]models.Quantity, len(values))
	for i, v := range values {
		out[i] = models.Q(v)
	}
	return out
}

func TestSum(t *testing.T) {
	tests := []struct {
		name    string
		entries []models.Quantity
		want    string
	}{
		{name: "empty is zero", entries: nil, want: "0"},
		{name: "single entry", entries: qs(4), want: "4"},
		{name: "integers", entries: qs(2, 3, 1), want: "6"},
		{name: "decimals stay exact", entries: qs(0.1, 0.2, 0.3), want: "0.6"},
		{name: "negative corrections", entries: qs(5, -2.5), want: "2.5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Sum(tt.entries).String())
		})
	}
}

func TestAppendEntries(t *testing.T) {
	existing := qs(2, 3)
	merged := AppendEntries(existing, qs(1))

	assert.Equal(t, []string{"2", "3", "1"}, strings(merged))
	assert.Len(t, existing, 2, "input must not be modified")
}

func TestReconcile(t *testing.T) {
	details := []*models.Detail{
		{ID: "d1", QuantityEntries: qs(2, 3, 1), TotalQuantity: models.Q(6)},
		{ID: "d2", QuantityEntries: qs(4), TotalQuantity: models.Q(4)},
	}

	require.NoError(t, Reconcile(&models.Person{ID: "p", TotalQuantity: models.Q(10)}, details))
	assert.Error(t, Reconcile(&models.Person{ID: "p", TotalQuantity: models.Q(9)}, details))

	details[1].TotalQuantity = models.Q(5)
	assert.Error(t, Reconcile(&models.Person{ID: "p", TotalQuantity: models.Q(11)}, details))
}

func strings(entries []models.Quantity) []string {
	out := make([]string, len(entries))
	for i, q := range entries {
		out[i] = q.String()
	}
	return out
}
