package filter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSimpleComparison(t *testing.T) {
	expr, err := Parse(`tn = '5511999990000'`)
	require.NoError(t, err)

	condition, args := expr.Condition()
	assert.Equal(t, "subscription_version_tn = ?", condition)
	assert.Equal(t, []any{"5511999990000"}, args)
}

func TestParseBooleanPrecedence(t *testing.T) {
	expr, err := Parse(`tn = '1' OR tn = '2' AND rn1 = '55555'`)
	require.NoError(t, err)

	condition, args := expr.Condition()
	assert.Equal(t,
		"(subscription_version_tn = ? OR (subscription_version_tn = ? AND subscription_rn1 = ?))",
		condition)
	assert.Equal(t, []any{"1", "2", "55555"}, args)
}

func TestParseGroupingAndNot(t *testing.T) {
	expr, err := Parse(`NOT (tn = '1' OR lnp_type = 'lspp')`)
	require.NoError(t, err)

	condition, args := expr.Condition()
	assert.Equal(t,
		"NOT ((subscription_version_tn = ? OR subscription_lnp_type = ?))",
		condition)
	assert.Len(t, args, 2)
}

func TestParseIntegerField(t *testing.T) {
	expr, err := Parse(`version_id >= 1000`)
	require.NoError(t, err)

	condition, args := expr.Condition()
	assert.Equal(t, "subscription_version_id >= ?", condition)
	assert.Equal(t, []any{int64(1000)}, args)
}

func TestParseTimestampField(t *testing.T) {
	expr, err := Parse(`activation_at < '2025-06-01T12:00:00Z'`)
	require.NoError(t, err)

	condition, args := expr.Condition()
	assert.Equal(t, "subscription_activation_timestamp < ?", condition)
	require.Len(t, args, 1)
	assert.Equal(t, time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC), args[0])
}

func TestParseRejectsEmptyExpression(t *testing.T) {
	for _, input := range []string{"", "   ", "\t\n"} {
		_, err := Parse(input)
		var parseErr *ParseError
		require.ErrorAs(t, err, &parseErr, "input %q", input)
	}
}

func TestParseRejectsUnknownField(t *testing.T) {
	_, err := Parse(`password = 'x'`)
	var parseErr *ParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Contains(t, err.Error(), "password")
}

func TestParseRejectsMalformedInput(t *testing.T) {
	for _, input := range []string{
		"tn =",
		"= '1'",
		"tn '1'",
		"(tn = '1'",
		"tn = '1' AND",
	} {
		_, err := Parse(input)
		require.Error(t, err, "input %q", input)
	}
}

func TestParseRejectsNonIntegerForIntegerField(t *testing.T) {
	_, err := Parse(`version_id = 'abc'`)
	var parseErr *ParseError
	require.ErrorAs(t, err, &parseErr)
}

// Injection attempts must either fail to parse or end up as harmless bind
// parameters; raw input never reaches the SQL text.
func TestParseNeutralizesInjection(t *testing.T) {
	expr, err := Parse(`tn = '1''; DROP TABLE subscription_versions; --'`)
	if err != nil {
		return
	}
	condition, args := expr.Condition()
	assert.NotContains(t, condition, "DROP")
	for _, arg := range args {
		_, isString := arg.(string)
		assert.True(t, isString)
	}
}
