// Package keys creates and locates the Machine Owner Key material used to
// sign kernel modules.
package keys

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"time"

	log "github.com/golang/glog"
	"github.com/pkg/errors"
)

const (
	// DefaultDir is where key material lives unless overridden.
	DefaultDir = "/var/lib/mok-signing"

	privateKeyFile = "module-signing.key"
	derCertFile    = "module-signing.der"
	pemCertFile    = "module-signing.pem"

	rsaKeyBits    = 2048
	validityYears = 100

	certSubjectCN = "Machine Owner Key for kernel module signing"
)

// codeSigningOnlyOID is the extended key usage OID shim and the kernel expect
// on certificates restricted to module signing (1.3.6.1.4.1.2312.16.1.2).
var codeSigningOnlyOID = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 2312, 16, 1, 2}

// Material holds the on-disk locations of the signing key pair.
type Material struct {
	PrivateKeyPath string
	DerCertPath    string
	PemCertPath    string
}

// MaterialIn returns the key material locations inside dir.
func MaterialIn(dir string) Material {
	return Material{
		PrivateKeyPath: filepath.Join(dir, privateKeyFile),
		DerCertPath:    filepath.Join(dir, derCertFile),
		PemCertPath:    filepath.Join(dir, pemCertFile),
	}
}

// Exists reports whether both the private key and the DER certificate are
// present. No format validation is performed; existing files are trusted.
func (m Material) Exists() bool {
	for _, path := range []string{m.PrivateKeyPath, m.DerCertPath} {
		if _, err := os.Stat(path); err != nil {
			return false
		}
	}
	return true
}

// EnsureKeys makes sure key material exists in dir. When material already
// exists, confirmReuse decides whether to keep it (the expected default) or
// regenerate it in place. confirmReuse may be nil, which means silent reuse.
func EnsureKeys(dir string, confirmReuse func() (bool, error)) (Material, error) {
	material := MaterialIn(dir)
	if material.Exists() {
		reuse := true
		if confirmReuse != nil {
			var err error
			if reuse, err = confirmReuse(); err != nil {
				return Material{}, errors.Wrap(err, "failed to ask about key reuse")
			}
		}
		if reuse {
			log.Infof("Reusing existing signing key in %s", dir)
			return material, nil
		}
		log.Infof("Regenerating signing key in %s", dir)
	}
	if err := generate(dir, material); err != nil {
		return Material{}, err
	}
	return material, nil
}

// generate creates a fresh RSA-2048 self-signed certificate and writes the
// private key (owner only) plus DER and PEM certificate encodings.
func generate(dir string, material Material) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrapf(err, "failed to create key dir %s", dir)
	}

	log.Infof("Generating a new %d-bit module signing key in %s", rsaKeyBits, dir)
	key, err := rsa.GenerateKey(rand.Reader, rsaKeyBits)
	if err != nil {
		return errors.Wrap(err, "failed to generate RSA key")
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return errors.Wrap(err, "failed to generate certificate serial")
	}

	now := time.Now()
	template := x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: certSubjectCN},
		NotBefore:             now,
		NotAfter:              now.AddDate(validityYears, 0, 0),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageCodeSigning},
		UnknownExtKeyUsage:    []asn1.ObjectIdentifier{codeSigningOnlyOID},
		BasicConstraintsValid: true,
	}

	derBytes, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return errors.Wrap(err, "failed to create self-signed certificate")
	}

	keyPem := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
	certPem := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: derBytes})

	// The private key is a long-lived secret; public artifacts are
	// world-readable so mokutil and DKMS can consume them.
	if err := os.WriteFile(material.PrivateKeyPath, keyPem, 0600); err != nil {
		return errors.Wrapf(err, "failed to write private key %s", material.PrivateKeyPath)
	}
	if err := os.WriteFile(material.DerCertPath, derBytes, 0644); err != nil {
		return errors.Wrapf(err, "failed to write DER certificate %s", material.DerCertPath)
	}
	if err := os.WriteFile(material.PemCertPath, certPem, 0644); err != nil {
		return errors.Wrapf(err, "failed to write PEM certificate %s", material.PemCertPath)
	}
	return nil
}

// SubjectCN returns the subject common name of the DER certificate. It is
// used to look the key up in the firmware's enrolled key listing.
func (m Material) SubjectCN() (string, error) {
	derBytes, err := os.ReadFile(m.DerCertPath)
	if err != nil {
		return "", errors.Wrapf(err, "failed to read certificate %s", m.DerCertPath)
	}
	cert, err := x509.ParseCertificate(derBytes)
	if err != nil {
		return "", errors.Wrapf(err, "failed to parse certificate %s", m.DerCertPath)
	}
	return cert.Subject.CommonName, nil
}
