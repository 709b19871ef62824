package shell

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTokenizeHonorsQuoting(t *testing.T) {
	cases := []struct {
		line string
		want []string
	}{
		{"echo foo", []string{"echo", "foo"}},
		{`echo "hello world"`, []string{"echo", "hello world"}},
		{`echo 'a b c'`, []string{"echo", "a b c"}},
		{`echo "quote: \"inner\""`, []string{"echo", `quote: "inner"`}},
		{"  ls   -la  ", []string{"ls", "-la"}},
	}

	for _, c := range cases {
		got, err := Tokenize(c.line)
		require.NoError(t, err)
		require.Equal(t, c.want, got)
	}
}
