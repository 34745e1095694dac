package store

import "testing"

func TestMergeReasons(t *testing.T) {
	cases := []struct {
		existing, incoming, want string
	}{
		{"", "identical", "identical"},
		{"identical", "identical", "identical"},
		{"identical", "incorporates, identical", "identical, incorporates"},
		{"a, b", "b, c", "a, b, c"},
	}
	for _, c := range cases {
		got := mergeReasons(c.existing, c.incoming)
		if got != c.want {
			t.Errorf("mergeReasons(%q, %q) = %q, want %q", c.existing, c.incoming, got, c.want)
		}
	}
}
