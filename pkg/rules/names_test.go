package rules

import "testing"

func TestNormalizeName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Roles & Responsibilities", "roles and responsibilities"},
		{"2.1 Roles and Responsibilities:", "roles and responsibilities"},
		{"3) Scope", "scope"},
		{"  POLICY   Statement ", "policy statement"},
		{"Monitoring & Review", "monitoring and review"},
		{"Access-Control Policy", "access control policy"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := NormalizeName(tt.in); got != tt.want {
				t.Errorf("NormalizeName(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
