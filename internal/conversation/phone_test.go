package conversation

import "testing"

func TestNormalizePhone(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"+79991234567", "+79991234567", true},
		{"79991234567", "+79991234567", true},
		{"89991234567", "+79991234567", true},
		{"9991234567", "+79991234567", true},
		{"+7 (999) 123-45-67", "+79991234567", true},
		{"8 999 123 45 67", "+79991234567", true},
		{"1234567890", "", false},    // ten digits, not mobile
		{"71234567890", "", false},   // country code but not mobile
		{"+7999123456", "", false},   // too short
		{"+799912345678", "", false}, // too long
		{"not a phone", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, ok := NormalizePhone(tc.in)
		if ok != tc.ok || got != tc.want {
			t.Fatalf("NormalizePhone(%q) mismatch: got=(%q,%v) want=(%q,%v)", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}

func TestNormalizeContactPhone(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{"+79991234567", "+79991234567"},
		{"89991234567", "+79991234567"},
		{"+380501234567", "+380501234567"}, // foreign contact kept verbatim
		{"380501234567", "+380501234567"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := NormalizeContactPhone(tc.in); got != tc.want {
			t.Fatalf("NormalizeContactPhone(%q) mismatch: got=%q want=%q", tc.in, got, tc.want)
		}
	}
}
