package username

import "testing"

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		input     string
		want      string
		wantError bool
	}{
		{
			name:  "accepts letters digits and separators",
			input: "Alice_0-1",
			want:  "Alice_0-1",
		},
		{
			name:  "trims spaces before validation",
			input: "  bob-user  ",
			want:  "bob-user",
		},
		{
			name:  "preserves case",
			input: "CamelCase",
			want:  "CamelCase",
		},
		{
			name:  "accepts minimum length",
			input: "abc",
			want:  "abc",
		},
		{
			name:  "accepts maximum length",
			input: "a2345678901234567890",
			want:  "a2345678901234567890",
		},
		{
			name:      "rejects empty",
			input:     "",
			wantError: true,
		},
		{
			name:      "rejects whitespace only",
			input:     "   ",
			wantError: true,
		},
		{
			name:      "rejects too short",
			input:     "ab",
			wantError: true,
		},
		{
			name:      "rejects too long",
			input:     "a23456789012345678901",
			wantError: true,
		},
		{
			name:      "rejects inner space",
			input:     "alice smith",
			wantError: true,
		},
		{
			name:      "rejects punctuation",
			input:     "alice!",
			wantError: true,
		},
		{
			name:      "rejects non ascii",
			input:     "álvaro",
			wantError: true,
		},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			got, err := Validate(test.input)
			if test.wantError {
				if err == nil {
					t.Fatalf("Validate(%q) error = nil, want non-nil", test.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("Validate(%q) error = %v", test.input, err)
			}
			if got != test.want {
				t.Fatalf("Validate(%q) = %q, want %q", test.input, got, test.want)
			}
		})
	}
}
