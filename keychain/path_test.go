package keychain

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestParsePath checks the accepted and rejected path syntaxes.
func TestParsePath(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		path     string
		want     string
		absolute bool
		numbers  []uint32
		err      error
	}{
		{
			name:     "bip84 account",
			path:     "m/84'/0'/0'",
			want:     "m/84'/0'/0'",
			absolute: true,
			numbers: []uint32{
				84 + HardenedKeyStart, HardenedKeyStart,
				HardenedKeyStart,
			},
		},
		{
			name:     "h and H markers",
			path:     "m/48h/1H/0'/2h",
			want:     "m/48'/1'/0'/2'",
			absolute: true,
			numbers: []uint32{
				48 + HardenedKeyStart, 1 + HardenedKeyStart,
				HardenedKeyStart, 2 + HardenedKeyStart,
			},
		},
		{
			name:    "relative",
			path:    "0/5",
			want:    "0/5",
			numbers: []uint32{0, 5},
		},
		{
			name:     "master only",
			path:     "m",
			want:     "m",
			absolute: true,
			numbers:  []uint32{},
		},
		{
			name: "empty",
			path: "",
			err:  ErrInvalidPath,
		},
		{
			name: "double slash",
			path: "m//0",
			err:  ErrInvalidPath,
		},
		{
			name: "not a number",
			path: "m/84'/x",
			err:  ErrInvalidPath,
		},
		{
			name: "negative",
			path: "m/-1",
			err:  ErrInvalidPath,
		},
		{
			name: "index overflows hardened range",
			path: "m/2147483648",
			err:  ErrInvalidPath,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			path, err := ParsePath(tc.path)
			if tc.err != nil {
				require.ErrorIs(t, err, tc.err)
				return
			}

			require.NoError(t, err)
			require.Equal(t, tc.want, path.String())
			require.Equal(t, tc.absolute, path.IsAbsolute())
			require.Equal(t, tc.numbers, path.ChildNumbers())
		})
	}
}

// TestPathChildDoesNotAlias makes sure that extending a path leaves the
// original untouched.
func TestPathChildDoesNotAlias(t *testing.T) {
	t.Parallel()

	account := MustParsePath("m/84'/1'/0'")
	ext := account.Child(0, false)
	change := account.Child(1, false)

	require.Equal(t, "m/84'/1'/0'", account.String())
	require.Equal(t, "m/84'/1'/0'/0", ext.String())
	require.Equal(t, "m/84'/1'/0'/1", change.String())
	require.False(t, ext.Equal(change))

	joined := account.Join(AddressPath(true, 7))
	require.Equal(t, "m/84'/1'/0'/1/7", joined.String())
}

// TestPathFromChildNumbers checks that raw child numbers map back to the
// path they were taken from.
func TestPathFromChildNumbers(t *testing.T) {
	t.Parallel()

	path := MustParsePath("m/48'/1'/0'/2'/1/5")
	nums := path.ChildNumbers()
	require.Equal(t, uint32(HardenedKeyStart+48), nums[0])
	require.Equal(t, uint32(5), nums[5])

	back := PathFromChildNumbers(nums)
	require.True(t, back.Equal(path))
	require.Equal(t, "m/48'/1'/0'/2'/1/5", back.String())

	require.Equal(t, "m", PathFromChildNumbers(nil).String())
}
