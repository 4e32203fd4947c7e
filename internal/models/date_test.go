package models

import (
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDate(t *testing.T) {
	tests := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{input: "2024-01-01", want: "2024-01-01"},
		{input: "2024-1-2", want: "2024-01-02"},
		{input: "2024-01-01T23:30:00Z", want: "2024-01-01"},
		{input: "2024-01-01T23:30:00-05:00", want: "2024-01-02"},
		{input: "2024-01-02T01:00:00+05:30", want: "2024-01-01"},
		{input: "2024-01-01T10:00:00", want: "2024-01-01"},
		{input: "2024-02-30", wantErr: true},
		{input: "yesterday", wantErr: true},
		{input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			d, err := ParseDate(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, d.String())
		})
	}
}

func TestDateOfUsesUTC(t *testing.T) {
	tokyo := time.FixedZone("JST", 9*60*60)
	d := DateOf(time.Date(2024, 3, 10, 8, 0, 0, 0, tokyo))
	assert.Equal(t, NewDate(2024, 3, 9), d)
}

func TestDateOrdering(t *testing.T) {
	a := NewDate(2024, 1, 31)
	b := a.AddDays(1)
	assert.Equal(t, "2024-02-01", b.String())
	assert.True(t, a.Before(b))
	assert.True(t, b.After(a))
	assert.Less(t, a.String(), b.String())
	assert.True(t, Date{}.IsZero())
	assert.False(t, a.IsZero())
}

func TestDateJSON(t *testing.T) {
	var d Date
	require.NoError(t, json.Unmarshal([]byte(`"2024-01-02T00:00:00.000Z"`), &d))
	assert.Equal(t, NewDate(2024, 1, 2), d)

	out, err := json.Marshal(d)
	require.NoError(t, err)
	assert.Equal(t, `"2024-01-02"`, string(out))

	assert.Error(t, json.Unmarshal([]byte(`20240102`), &d))
}

func TestStatusCode(t *testing.T) {
	cause := errors.New("disk full")
	tests := []struct {
		err  error
		want int
		kind string
	}{
		{Validationf("name is required"), http.StatusBadRequest, "validation"},
		{AuthError(cause), http.StatusUnauthorized, "auth"},
		{NotFound("person"), http.StatusNotFound, "not_found"},
		{UpstreamError("transcription", cause), http.StatusBadGateway, "upstream"},
		{StoreError("create person", cause), http.StatusInternalServerError, "store"},
		{cause, http.StatusInternalServerError, "store"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusCode(tt.err), tt.err.Error())
		assert.Equal(t, tt.kind, Kind(tt.err))
	}

	err := StoreError("create person", cause)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "failed to create person", Message(err))
	assert.Equal(t, "failed to create person: disk full", err.Error())
}
