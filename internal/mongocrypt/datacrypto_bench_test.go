package mongocrypt

import (
	"testing"

	"github.com/mongocrypt-go/core/internal/blob"
)

// BenchmarkAEADCryptoEncrypt/Decrypt mirror the teacher's
// BenchmarkChunkedEncrypt_Parallel/BenchmarkChunkedDecrypt_Parallel shape
// (fixed payload, b.ResetTimer/b.ReportAllocs, tight b.N loop), sized down
// from the teacher's 10MB streaming payload to a single field-sized value
// since this core never chunks.
func BenchmarkAEADCryptoEncrypt(b *testing.B) {
	c := NewAEADCrypto()
	keyMaterial := make([]byte, 96)
	for i := range keyMaterial {
		keyMaterial[i] = byte(i)
	}
	plaintext := make([]byte, 4096)
	for i := range plaintext {
		plaintext[i] = byte(i % 256)
	}

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		if _, st := c.Encrypt(keyMaterial, plaintext, nil, blob.AlgorithmRandom); st != nil {
			b.Fatalf("encrypt failed: %s", st.Error())
		}
	}
}

func BenchmarkAEADCryptoDecrypt(b *testing.B) {
	c := NewAEADCrypto()
	keyMaterial := make([]byte, 96)
	for i := range keyMaterial {
		keyMaterial[i] = byte(i)
	}
	plaintext := make([]byte, 4096)
	for i := range plaintext {
		plaintext[i] = byte(i % 256)
	}

	ciphertext, st := c.Encrypt(keyMaterial, plaintext, nil, blob.AlgorithmRandom)
	if st != nil {
		b.Fatalf("setup encrypt failed: %s", st.Error())
	}

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		if _, st := c.Decrypt(keyMaterial, ciphertext); st != nil {
			b.Fatalf("decrypt failed: %s", st.Error())
		}
	}
}
