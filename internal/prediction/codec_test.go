package prediction

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/prodepool/internal/domain"
)

func TestEncode_RoundTrip(t *testing.T) {
	codes := make([]domain.Outcome, domain.DefaultFixtureCount)
	for i := range codes {
		codes[i] = domain.Outcome(i%3 + 1)
	}

	enc, err := Encode(codes)
	require.NoError(t, err)

	for i, want := range codes {
		assert.Equal(t, want, Decode(enc, i), "fixture %d", i)
	}
	assert.Equal(t, codes, DecodeAll(enc, len(codes)))
}

func TestEncode_KnownValues(t *testing.T) {
	tests := []struct {
		name string
		code domain.Outcome
		want string
	}{
		{name: "all home", code: domain.OutcomeHome, want: "26409387504754779197847983445"},
		{name: "all tie", code: domain.OutcomeTie, want: "52818775009509558395695966890"},
		{name: "all away", code: domain.OutcomeAway, want: "79228162514264337593543950335"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc, err := Uniform(tt.code, domain.DefaultFixtureCount)
			require.NoError(t, err)
			assert.Equal(t, tt.want, enc.Dec())

			parsed, err := FromDecimal(tt.want)
			require.NoError(t, err)
			assert.Equal(t, tt.code, Decode(parsed, domain.DefaultFixtureCount-1))
		})
	}
}

func TestEncode_LeastSignificantFirst(t *testing.T) {
	enc, err := Encode([]domain.Outcome{domain.OutcomeHome, domain.OutcomeAway})
	require.NoError(t, err)
	// 0b11_01
	assert.Equal(t, uint64(13), enc.Uint64())
}

func TestEncode_PacksUnsetCode(t *testing.T) {
	enc, err := Encode([]domain.Outcome{domain.OutcomeTie, domain.OutcomeUnset, domain.OutcomeHome})
	require.NoError(t, err)
	assert.Equal(t, 1, FirstUnset(enc, 3))
}

func TestEncode_RejectsWideCodes(t *testing.T) {
	_, err := Encode([]domain.Outcome{domain.OutcomeHome, domain.OutcomeSuspended})
	require.ErrorIs(t, err, ErrCodeOutOfRange)

	_, err = Encode(make([]domain.Outcome, MaxFixtures+1))
	require.ErrorIs(t, err, ErrTooManyFixtures)
}

func TestDecode_Total(t *testing.T) {
	assert.Equal(t, domain.OutcomeUnset, Decode(nil, 0))

	enc, err := Uniform(domain.OutcomeAway, 4)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeUnset, Decode(enc, 4))
	assert.Equal(t, domain.OutcomeUnset, Decode(enc, -1))
	assert.Equal(t, domain.OutcomeUnset, Decode(enc, MaxFixtures))
	assert.Equal(t, -1, FirstUnset(enc, 4))
}
