package partition

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustRange(t *testing.T, low, high int64) Key {
	t.Helper()
	k, err := Int64RangeKey(low, high)
	require.NoError(t, err)
	return k
}

func TestKeyCompareTotalOrder(t *testing.T) {
	keys := []Key{
		NoneKey(),
		mustRange(t, math.MinInt64, -1),
		Int64Key(0),
		mustRange(t, 0, 10),
		Int64Key(5),
		StringKey(""),
		StringKey("alpha"),
		StringKey("beta"),
	}
	for i := range keys {
		assert.Equal(t, 0, Compare(keys[i], keys[i]))
		for j := i + 1; j < len(keys); j++ {
			assert.Negative(t, Compare(keys[i], keys[j]), "%v < %v", keys[i], keys[j])
			assert.Positive(t, Compare(keys[j], keys[i]), "%v > %v", keys[j], keys[i])
		}
	}
}

func TestFindCompareSingletonInRange(t *testing.T) {
	r := mustRange(t, 100, 199)
	assert.Equal(t, 0, FindCompare(Int64Key(150), r))
	assert.Equal(t, 0, FindCompare(r, Int64Key(100)))
	assert.Equal(t, 0, FindCompare(r, Int64Key(199)))
	assert.Negative(t, FindCompare(Int64Key(99), r))
	assert.Positive(t, FindCompare(Int64Key(200), r))
	assert.NotEqual(t, 0, FindCompare(StringKey("150"), r))
}

func TestInt64RangeKeyRejectsInverted(t *testing.T) {
	_, err := Int64RangeKey(10, 9)
	assert.Error(t, err)
}

func TestIsValidTarget(t *testing.T) {
	tests := []struct {
		name string
		key  Key
		want bool
	}{
		{"none", NoneKey(), true},
		{"string", StringKey("user-42"), true},
		{"singleton", Int64Key(7), true},
		{"range", mustRange(t, 0, 99), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.key.IsValidTarget())
		})
	}
}

func TestParseRoundTripsString(t *testing.T) {
	for _, s := range []string{"svc", "svc:42", "svc:-5..5", "svc:orders"} {
		p, err := Parse(s)
		require.NoError(t, err, s)
		assert.Equal(t, s, p.String())
	}
}

func TestServicePartitionHeaders(t *testing.T) {
	p, err := New("fabric:/app/orders", mustRange(t, 0, 1023))
	require.NoError(t, err)

	src := p.SourceHeader()
	dst := p.TargetHeader()
	assert.Same(t, src, p.SourceHeader(), "headers are built once")
	assert.Equal(t, RoleSource, src.Role)
	assert.Equal(t, RoleTarget, dst.Role)
	assert.Equal(t, int64(1023), dst.Int64RangeHigh)

	back, err := FromHeader(dst)
	require.NoError(t, err)
	assert.True(t, p.Equal(back))
}

func TestServicePartitionRejectsBadNames(t *testing.T) {
	_, err := New("", NoneKey())
	assert.Error(t, err)

	long := make([]byte, MaxServiceNameLength+1)
	for i := range long {
		long[i] = 'a'
	}
	_, err = New(string(long), NoneKey())
	assert.Error(t, err)
}

func TestFloorProbeOrdering(t *testing.T) {
	hosted, err := New("svc", mustRange(t, 100, 199))
	require.NoError(t, err)
	target, err := New("svc", Int64Key(150))
	require.NoError(t, err)

	probe := target.FloorProbe()
	assert.LessOrEqual(t, ComparePartitions(hosted, probe), 0)
	assert.True(t, hosted.Contains(target))

	outside, err := New("svc", Int64Key(250))
	require.NoError(t, err)
	assert.False(t, hosted.Contains(outside))
}
