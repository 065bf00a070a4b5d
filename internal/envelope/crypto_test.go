package envelope

import "testing"

func TestECDHAgreement(t *testing.T) {
	a, err := GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	b, err := GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}

	sharedA, err := a.SharedSecret(b.Public)
	if err != nil {
		t.Fatal(err)
	}
	sharedB, err := b.SharedSecret(a.Public)
	if err != nil {
		t.Fatal(err)
	}
	if sharedA != sharedB {
		t.Fatal("ECDH shared secrets do not match")
	}
}

func TestEncryptDecryptRoundtrip(t *testing.T) {
	a, _ := GenerateKeyPair()
	b, _ := GenerateKeyPair()
	key, err := a.SharedSecret(b.Public)
	if err != nil {
		t.Fatal(err)
	}

	plaintext := []byte(`{"credit":{"token_id":"abc"}}`)
	nonce, ciphertext, err := Encrypt(key, plaintext)
	if err != nil {
		t.Fatal(err)
	}

	decrypted, err := Decrypt(key, nonce, ciphertext)
	if err != nil {
		t.Fatal(err)
	}
	if string(decrypted) != string(plaintext) {
		t.Fatal("roundtrip did not preserve plaintext")
	}
}

func TestDecryptRejectsWrongKey(t *testing.T) {
	a, _ := GenerateKeyPair()
	b, _ := GenerateKeyPair()
	c, _ := GenerateKeyPair()

	key, _ := a.SharedSecret(b.Public)
	wrongKey, _ := a.SharedSecret(c.Public)

	nonce, ciphertext, err := Encrypt(key, []byte("secret"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Decrypt(wrongKey, nonce, ciphertext); err == nil {
		t.Fatal("expected decryption under the wrong key to fail")
	}
}

func TestDecryptRejectsWrongNonceLength(t *testing.T) {
	a, _ := GenerateKeyPair()
	b, _ := GenerateKeyPair()
	key, _ := a.SharedSecret(b.Public)
	if _, err := Decrypt(key, []byte("short"), []byte("ciphertext")); err == nil {
		t.Fatal("expected short nonce to be rejected")
	}
}
