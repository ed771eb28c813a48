package idgen

import (
	"strings"
	"testing"
)

func TestGenerateSecureID(t *testing.T) {
	tests := []struct {
		name       string
		prefix     string
		length     int
		wantErr    bool
		wantPrefix string
	}{
		{
			name:       "generate turn ID",
			prefix:     "turn",
			length:     16,
			wantErr:    false,
			wantPrefix: "turn_",
		},
		{
			name:       "generate short ID",
			prefix:     "test",
			length:     8,
			wantErr:    false,
			wantPrefix: "test_",
		},
		{
			name:       "generate long ID",
			prefix:     "test",
			length:     32,
			wantErr:    false,
			wantPrefix: "test_",
		},
		{
			name:    "empty prefix",
			prefix:  "",
			length:  16,
			wantErr: true,
		},
		{
			name:    "zero length",
			prefix:  "turn",
			length:  0,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := GenerateSecureID(tt.prefix, tt.length)
			if (err != nil) != tt.wantErr {
				t.Errorf("GenerateSecureID() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr {
				if !strings.HasPrefix(got, tt.wantPrefix) {
					t.Errorf("GenerateSecureID() = %v, want prefix %v", got, tt.wantPrefix)
				}
				expectedLen := len(tt.prefix) + 1 + tt.length
				if len(got) != expectedLen {
					t.Errorf("GenerateSecureID() length = %v, want %v", len(got), expectedLen)
				}
				suffix := got[len(tt.prefix)+1:]
				for _, char := range suffix {
					if !((char >= 'a' && char <= 'z') || (char >= '0' && char <= '9')) {
						t.Errorf("GenerateSecureID() contains invalid character: %c", char)
					}
				}
			}
		})
	}
}

func TestGenerateSecureID_Uniqueness(t *testing.T) {
	const iterations = 10000
	seen := make(map[string]bool)

	for i := 0; i < iterations; i++ {
		id, err := GenerateSecureID("turn", 16)
		if err != nil {
			t.Fatalf("GenerateSecureID() error = %v", err)
		}
		if seen[id] {
			t.Errorf("GenerateSecureID() generated duplicate ID: %v", id)
		}
		seen[id] = true
	}
}

func TestValidateIDFormat(t *testing.T) {
	tests := []struct {
		name           string
		id             string
		expectedPrefix string
		want           bool
	}{
		{
			name:           "valid turn ID",
			id:             "turn_a3f8d2k9p1m4n7q2",
			expectedPrefix: "turn",
			want:           true,
		},
		{
			name:           "wrong prefix",
			id:             "turn_a3f8d2k9p1m4n7q2",
			expectedPrefix: "chat",
			want:           false,
		},
		{
			name:           "missing underscore",
			id:             "turna3f8d2k9p1m4n7q2",
			expectedPrefix: "turn",
			want:           false,
		},
		{
			name:           "empty suffix",
			id:             "turn_",
			expectedPrefix: "turn",
			want:           false,
		},
		{
			name:           "invalid characters (uppercase)",
			id:             "turn_A3F8D2K9P1M4N7Q2",
			expectedPrefix: "turn",
			want:           false,
		},
		{
			name:           "invalid characters (special chars)",
			id:             "turn_a3f8-d2k9-p1m4",
			expectedPrefix: "turn",
			want:           false,
		},
		{
			name:           "invalid characters (underscore in suffix)",
			id:             "turn_a3f8_d2k9",
			expectedPrefix: "turn",
			want:           false,
		},
		{
			name:           "empty ID",
			id:             "",
			expectedPrefix: "turn",
			want:           false,
		},
		{
			name:           "only prefix",
			id:             "turn",
			expectedPrefix: "turn",
			want:           false,
		},
		{
			name:           "numbers only suffix",
			id:             "turn_123456789",
			expectedPrefix: "turn",
			want:           true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidateIDFormat(tt.id, tt.expectedPrefix); got != tt.want {
				t.Errorf("ValidateIDFormat(%q, %q) = %v, want %v", tt.id, tt.expectedPrefix, got, tt.want)
			}
		})
	}
}

func TestValidateIDFormat_GeneratedIDs(t *testing.T) {
	prefixes := []string{"turn", "test"}
	lengths := []int{8, 16, 32}

	for _, prefix := range prefixes {
		for _, length := range lengths {
			id, err := GenerateSecureID(prefix, length)
			if err != nil {
				t.Fatalf("GenerateSecureID() error = %v", err)
			}
			if !ValidateIDFormat(id, prefix) {
				t.Errorf("Generated ID %q failed validation with prefix %q", id, prefix)
			}
		}
	}
}

func BenchmarkGenerateSecureID(b *testing.B) {
	for i := 0; i < b.N; i++ {
		if _, err := GenerateSecureID("turn", 16); err != nil {
			b.Fatal(err)
		}
	}
}
