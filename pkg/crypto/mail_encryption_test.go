package crypto

import (
	"strings"
	"testing"
)

func TestEncryptDecrypt_Roundtrip(t *testing.T) {
	enc, err := NewEncryptor([]byte("0123456789abcdef0123456789abcdef"))
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name      string
		plaintext string
	}{
		{"empty", ""},
		{"short", "hunter2"},
		{"json credentials", `{"type":"oauth2","access_token":"ya29.x","refresh_token":"1//r"}`},
		{"unicode", "pässwörd 메일"},
		{"long", strings.Repeat("a", 4096)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sealed, err := enc.Encrypt(tt.plaintext)
			if err != nil {
				t.Fatalf("Encrypt() error = %v", err)
			}
			if tt.plaintext != "" && sealed == tt.plaintext {
				t.Fatal("ciphertext equals plaintext")
			}

			got, err := enc.Decrypt(sealed)
			if err != nil {
				t.Fatalf("Decrypt() error = %v", err)
			}
			if got != tt.plaintext {
				t.Errorf("roundtrip = %q, want %q", got, tt.plaintext)
			}
		})
	}
}

func TestEncryptor_ShortKeyIsStretched(t *testing.T) {
	enc, err := NewEncryptor([]byte("short"))
	if err != nil {
		t.Fatalf("NewEncryptor() error = %v", err)
	}

	sealed, err := enc.Encrypt("value")
	if err != nil {
		t.Fatal(err)
	}
	got, err := enc.Decrypt(sealed)
	if err != nil {
		t.Fatal(err)
	}
	if got != "value" {
		t.Errorf("roundtrip = %q", got)
	}
}

func TestDecrypt_Garbage(t *testing.T) {
	enc, err := NewEncryptor([]byte("0123456789abcdef0123456789abcdef"))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := enc.Decrypt("not-base64!!"); err == nil {
		t.Error("expected error for invalid base64")
	}
	if _, err := enc.Decrypt("YWJj"); err == nil {
		t.Error("expected error for truncated ciphertext")
	}
}
