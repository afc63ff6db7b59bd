package money

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func drawAmount(t *rapid.T, label string) Amount {
	units := rapid.Int64Range(-1e15, 1e15).Draw(t, label)
	scale := rapid.Int32Range(0, InternalScale).Draw(t, label+"_scale")
	return New(units, scale)
}

func TestParse(t *testing.T) {
	t.Run("Valid", func(t *testing.T) {
		a, err := Parse("1000.00")
		require.NoError(t, err)
		assert.Equal(t, "1000.00000000", a.Canonical())
		assert.Equal(t, "1000.00", a.External())
	})

	t.Run("ScaleEight", func(t *testing.T) {
		a, err := Parse("0.00000001")
		require.NoError(t, err)
		assert.True(t, a.Equal(Epsilon))
	})

	t.Run("TooPrecise", func(t *testing.T) {
		_, err := Parse("0.000000001")
		assert.ErrorIs(t, err, ErrInvalidAmount)
	})

	t.Run("Malformed", func(t *testing.T) {
		_, err := Parse("12,5")
		assert.ErrorIs(t, err, ErrInvalidAmount)
	})
}

func TestArithmeticLaws(t *testing.T) {
	one := New(1, 0)

	t.Run("AdditionCommutative", func(t *testing.T) {
		rapid.Check(t, func(rt *rapid.T) {
			a := drawAmount(rt, "a")
			b := drawAmount(rt, "b")
			assert.True(t, a.Add(b).Equal(b.Add(a)))
		})
	})

	t.Run("AdditionAssociative", func(t *testing.T) {
		rapid.Check(t, func(rt *rapid.T) {
			a := drawAmount(rt, "a")
			b := drawAmount(rt, "b")
			c := drawAmount(rt, "c")
			assert.True(t, a.Add(b).Add(c).Equal(a.Add(b.Add(c))))
		})
	})

	t.Run("AdditiveIdentity", func(t *testing.T) {
		rapid.Check(t, func(rt *rapid.T) {
			a := drawAmount(rt, "a")
			assert.True(t, a.Add(Zero).Equal(a))
		})
	})

	t.Run("SubtractThenAdd", func(t *testing.T) {
		rapid.Check(t, func(rt *rapid.T) {
			a := drawAmount(rt, "a")
			b := drawAmount(rt, "b")
			assert.True(t, a.Sub(b).Add(b).Equal(a))
		})
	})

	t.Run("MultiplicativeIdentity", func(t *testing.T) {
		rapid.Check(t, func(rt *rapid.T) {
			a := drawAmount(rt, "a")
			assert.True(t, a.Mul(one).Equal(a))
		})
	})

	t.Run("RoundingStable", func(t *testing.T) {
		rapid.Check(t, func(rt *rapid.T) {
			a := drawAmount(rt, "a")
			once := a.RoundExternal()
			assert.True(t, once.RoundExternal().Equal(once))
		})
	})
}

func TestCanonicalStable(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		a := drawAmount(rt, "a")
		b, err := Parse(a.Canonical())
		require.NoError(rt, err)
		assert.True(rt, a.Equal(b))
		assert.Equal(rt, a.Canonical(), b.Canonical())
	})
}

func TestDivByZero(t *testing.T) {
	assert.True(t, New(5, 0).Div(Zero).IsZero())
}

func TestSum(t *testing.T) {
	total := Sum(MustParse("1.10"), MustParse("2.20"), MustParse("3.30"))
	assert.True(t, total.Equal(MustParse("6.60")))
	assert.True(t, Sum().IsZero())
}

func TestJSONRoundTrip(t *testing.T) {
	a := MustParse("1234.56")
	raw, err := a.MarshalJSON()
	require.NoError(t, err)

	var back Amount
	require.NoError(t, back.UnmarshalJSON(raw))
	assert.True(t, a.Equal(back))
}
