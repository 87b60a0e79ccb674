package keys

import (
	"crypto/x509"
	"encoding/pem"
	"os"
	"testing"
)

func TestEnsureKeysGeneratesOnce(t *testing.T) {
	tmpDir := t.TempDir()

	material, err := EnsureKeys(tmpDir, nil)
	if err != nil {
		t.Fatalf("Failed to run EnsureKeys: %v", err)
	}
	if !material.Exists() {
		t.Fatal("Key material missing after EnsureKeys")
	}

	keyInfo, err := os.Stat(material.PrivateKeyPath)
	if err != nil {
		t.Fatalf("Failed to stat private key: %v", err)
	}
	if keyInfo.Mode().Perm() != 0600 {
		t.Errorf("Unexpected private key mode: want: 0600, got: %o", keyInfo.Mode().Perm())
	}
	certInfo, err := os.Stat(material.DerCertPath)
	if err != nil {
		t.Fatalf("Failed to stat DER certificate: %v", err)
	}
	if certInfo.Mode().Perm() != 0644 {
		t.Errorf("Unexpected certificate mode: want: 0644, got: %o", certInfo.Mode().Perm())
	}

	firstKey, err := os.ReadFile(material.PrivateKeyPath)
	if err != nil {
		t.Fatalf("Failed to read private key: %v", err)
	}

	// Second run with reuse (the default) must not touch the key.
	if _, err := EnsureKeys(tmpDir, func() (bool, error) { return true, nil }); err != nil {
		t.Fatalf("Failed to run EnsureKeys a second time: %v", err)
	}
	secondKey, err := os.ReadFile(material.PrivateKeyPath)
	if err != nil {
		t.Fatalf("Failed to read private key: %v", err)
	}
	if string(firstKey) != string(secondKey) {
		t.Error("Private key changed on a reuse run")
	}

	// Declining reuse regenerates the key.
	if _, err := EnsureKeys(tmpDir, func() (bool, error) { return false, nil }); err != nil {
		t.Fatalf("Failed to run EnsureKeys with regeneration: %v", err)
	}
	thirdKey, err := os.ReadFile(material.PrivateKeyPath)
	if err != nil {
		t.Fatalf("Failed to read private key: %v", err)
	}
	if string(firstKey) == string(thirdKey) {
		t.Error("Private key unchanged after declining reuse")
	}
}

func TestGeneratedCertificate(t *testing.T) {
	tmpDir := t.TempDir()
	material, err := EnsureKeys(tmpDir, nil)
	if err != nil {
		t.Fatalf("Failed to run EnsureKeys: %v", err)
	}

	derBytes, err := os.ReadFile(material.DerCertPath)
	if err != nil {
		t.Fatalf("Failed to read DER certificate: %v", err)
	}
	cert, err := x509.ParseCertificate(derBytes)
	if err != nil {
		t.Fatalf("Failed to parse DER certificate: %v", err)
	}

	if cert.Subject.CommonName != certSubjectCN {
		t.Errorf("Unexpected subject CN: want: %s, got: %s", certSubjectCN, cert.Subject.CommonName)
	}
	if years := cert.NotAfter.Year() - cert.NotBefore.Year(); years != validityYears {
		t.Errorf("Unexpected validity: want: %d years, got: %d", validityYears, years)
	}
	hasCodeSigning := false
	for _, eku := range cert.ExtKeyUsage {
		if eku == x509.ExtKeyUsageCodeSigning {
			hasCodeSigning = true
		}
	}
	if !hasCodeSigning {
		t.Error("Certificate is missing the code signing extended key usage")
	}
	hasModuleSigningOID := false
	for _, oid := range cert.UnknownExtKeyUsage {
		if oid.Equal(codeSigningOnlyOID) {
			hasModuleSigningOID = true
		}
	}
	if !hasModuleSigningOID {
		t.Error("Certificate is missing the module signing usage OID")
	}

	// The PEM certificate must encode the same certificate.
	pemBytes, err := os.ReadFile(material.PemCertPath)
	if err != nil {
		t.Fatalf("Failed to read PEM certificate: %v", err)
	}
	block, _ := pem.Decode(pemBytes)
	if block == nil || block.Type != "CERTIFICATE" {
		t.Fatal("PEM certificate file does not contain a CERTIFICATE block")
	}
	if string(block.Bytes) != string(derBytes) {
		t.Error("PEM and DER certificates differ")
	}

	cn, err := material.SubjectCN()
	if err != nil {
		t.Fatalf("Failed to run SubjectCN: %v", err)
	}
	if cn != certSubjectCN {
		t.Errorf("Unexpected SubjectCN result: want: %s, got: %s", certSubjectCN, cn)
	}
}

func TestExists(t *testing.T) {
	material := MaterialIn(t.TempDir())
	if material.Exists() {
		t.Error("Exists on empty dir: want false, got true")
	}
}
