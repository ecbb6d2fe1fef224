package encryption

import (
	"bytes"
	"errors"
	"strings"
	"sync"
	"testing"
)

const (
	testKey      = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"
	otherTestKey = "1f1e1d1c1b1a191817161514131211100f0e0d0c0b0a09080706050403020100"
)

func newTestService(t *testing.T, key string) *Service {
	t.Helper()
	service, err := NewService(Config{Key: key})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}
	return service
}

func TestNewServiceRejectsInvalidKeys(t *testing.T) {
	testCases := []struct {
		name string
		key  string
	}{
		{name: "missing", key: ""},
		{name: "whitespace", key: "   "},
		{name: "too-short", key: testKey[:62]},
		{name: "too-long", key: testKey + "00"},
		{name: "not-hex", key: strings.Repeat("zz", 32)},
		{name: "raw-32-bytes", key: strings.Repeat("k", 32)},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			_, err := NewService(Config{Key: testCase.key})
			if !errors.Is(err, ErrConfiguration) {
				t.Fatalf("expected configuration error, got %v", err)
			}
		})
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	service := newTestService(t, testKey)
	plaintexts := []string{
		"",
		"a",
		"exactly sixteen!",
		"Geheime Notiz mit Umlauten: äöüß",
		strings.Repeat("long content ", 500),
		"line one\nline two\ttabbed",
	}

	for _, plaintext := range plaintexts {
		sealed, err := service.Encrypt(plaintext)
		if err != nil {
			t.Fatalf("encrypt failed: %v", err)
		}
		if len(sealed.IV) != ivLengthBytes*2 {
			t.Fatalf("expected %d hex characters of iv, got %d", ivLengthBytes*2, len(sealed.IV))
		}
		decrypted, err := service.Decrypt(sealed.Content, sealed.IV)
		if err != nil {
			t.Fatalf("decrypt failed: %v", err)
		}
		if decrypted != plaintext {
			t.Fatalf("round trip mismatch: want %q got %q", plaintext, decrypted)
		}
	}
}

func TestEncryptNeverReusesIV(t *testing.T) {
	service := newTestService(t, testKey)
	const trials = 10000
	seen := make(map[string]struct{}, trials)
	for index := 0; index < trials; index++ {
		sealed, err := service.Encrypt("same plaintext")
		if err != nil {
			t.Fatalf("encrypt failed: %v", err)
		}
		if _, exists := seen[sealed.IV]; exists {
			t.Fatalf("iv reused after %d encryptions", index)
		}
		seen[sealed.IV] = struct{}{}
	}
}

func TestEncryptUsesConfiguredRandomSource(t *testing.T) {
	ivSource := bytes.Repeat([]byte{0xab}, ivLengthBytes)
	service, err := NewService(Config{Key: testKey, Random: bytes.NewReader(ivSource)})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}

	sealed, err := service.Encrypt("hello")
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	if sealed.IV != strings.Repeat("ab", ivLengthBytes) {
		t.Fatalf("unexpected iv %s", sealed.IV)
	}

	if _, err := service.Encrypt("exhausted"); err == nil {
		t.Fatalf("expected error once the random source is exhausted")
	}
}

func TestDecryptRejectsWrongKey(t *testing.T) {
	sealed, err := newTestService(t, testKey).Encrypt("secret")
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}

	_, err = newTestService(t, otherTestKey).Decrypt(sealed.Content, sealed.IV)
	if !errors.Is(err, ErrDecryption) {
		t.Fatalf("expected decryption error, got %v", err)
	}
}

func TestDecryptRejectsMalformedInput(t *testing.T) {
	service := newTestService(t, testKey)
	sealed, err := service.Encrypt("secret")
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	other, err := service.Encrypt("another secret")
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}

	flipped := []byte(sealed.Content)
	if flipped[0] == '0' {
		flipped[0] = '1'
	} else {
		flipped[0] = '0'
	}

	testCases := []struct {
		name    string
		content string
		iv      string
	}{
		{name: "empty", content: "", iv: ""},
		{name: "non-hex-content", content: "not hex", iv: sealed.IV},
		{name: "non-hex-iv", content: sealed.Content, iv: "zz"},
		{name: "short-iv", content: sealed.Content, iv: sealed.IV[:16]},
		{name: "truncated-content", content: sealed.Content[:len(sealed.Content)-2], iv: sealed.IV},
		{name: "tampered-content", content: string(flipped), iv: sealed.IV},
		{name: "mismatched-iv", content: sealed.Content, iv: other.IV},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			_, err := service.Decrypt(testCase.content, testCase.iv)
			if !errors.Is(err, ErrDecryption) {
				t.Fatalf("expected decryption error, got %v", err)
			}
		})
	}
}

func TestDecryptOrPlaceholder(t *testing.T) {
	service := newTestService(t, testKey)
	sealed, err := service.Encrypt("visible")
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}

	plaintext, ok := service.DecryptOrPlaceholder(sealed.Content, sealed.IV)
	if !ok || plaintext != "visible" {
		t.Fatalf("expected decrypted plaintext, got %q (ok=%v)", plaintext, ok)
	}

	plaintext, ok = service.DecryptOrPlaceholder(sealed.Content, "00")
	if ok {
		t.Fatalf("expected failure flag")
	}
	if plaintext != DecryptionFailedPlaceholder {
		t.Fatalf("expected placeholder, got %q", plaintext)
	}
}

func TestServiceIsSafeForConcurrentUse(t *testing.T) {
	service := newTestService(t, testKey)
	var waitGroup sync.WaitGroup
	errs := make(chan error, 32)
	for worker := 0; worker < 32; worker++ {
		waitGroup.Add(1)
		go func(worker int) {
			defer waitGroup.Done()
			plaintext := strings.Repeat("x", worker)
			sealed, err := service.Encrypt(plaintext)
			if err != nil {
				errs <- err
				return
			}
			decrypted, err := service.Decrypt(sealed.Content, sealed.IV)
			if err != nil {
				errs <- err
				return
			}
			if decrypted != plaintext {
				errs <- errors.New("round trip mismatch")
			}
		}(worker)
	}
	waitGroup.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent round trip failed: %v", err)
	}
}
