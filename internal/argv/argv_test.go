package argv

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplit(t *testing.T) {
	t.Parallel()
	for _, tc := range []struct {
		name string
		in   string
		want []string
	}{
		{"empty", "", nil},
		{"blank", " \t\n", nil},
		{"plain", "halsampler -t -n 4", []string{"halsampler", "-t", "-n", "4"}},
		{"single quotes", `echo 'a  b' '\n'`, []string{"echo", "a  b", `\n`}},
		{"double quotes", `echo "a \"b\" \$x \q"`, []string{"echo", `a "b" $x \q`}},
		{"empty quoted", `a "" ''`, []string{"a", "", ""}},
		{"adjacent", `pre"mid"'post'`, []string{"premidpost"}},
		{"escaped space", `a\ b c`, []string{"a b", "c"}},
		{"continuation", "a \\\nb", []string{"a", "b"}},
		{"continuation in word", "ab\\\ncd", []string{"abcd"}},
		{"unicode", "ä 'ö ü'", []string{"ä", "ö ü"}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := Split(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestSplit_Unterminated(t *testing.T) {
	t.Parallel()
	for _, in := range []string{`'open`, `"open`, `trailing\`} {
		_, err := Split(in)
		require.ErrorIs(t, err, ErrUnterminated, in)
	}
}

func TestCommand(t *testing.T) {
	t.Parallel()
	prog, args, err := Command("", "halcmd")
	require.NoError(t, err)
	assert.Equal(t, "halcmd", prog)
	assert.Empty(t, args)

	prog, args, err = Command("/opt/hal/bin/halsampler -c 1", "halsampler")
	require.NoError(t, err)
	assert.Equal(t, "/opt/hal/bin/halsampler", prog)
	assert.Equal(t, []string{"-c", "1"}, args)

	_, _, err = Command(`"x`, "y")
	require.Error(t, err)
}

func FuzzSplit(f *testing.F) {
	for _, s := range []string{"a b", `'x y'`, `"a\"b"`, "a\\\nb", `\`} {
		f.Add(s)
	}
	f.Fuzz(func(t *testing.T, s string) {
		args, err := Split(s)
		if err != nil {
			return
		}
		quoted := make([]string, len(args))
		for i, a := range args {
			quoted[i] = "'" + strings.ReplaceAll(a, "'", `'\''`) + "'"
		}
		again, err := Split(strings.Join(quoted, " "))
		require.NoError(t, err)
		assert.Equal(t, args, again)
	})
}
