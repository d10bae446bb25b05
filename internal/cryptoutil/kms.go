package cryptoutil

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/x509"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	kmstypes "github.com/aws/aws-sdk-go-v2/service/kms/types"

	"github.com/keithlinneman/linnemanlabs-admin/internal/xerrors"
)

// publicKeyGetter is the one KMS call the verifier needs.
type publicKeyGetter interface {
	GetPublicKey(ctx context.Context, params *kms.GetPublicKeyInput, optFns ...func(*kms.Options)) (*kms.GetPublicKeyOutput, error)
}

// KMSVerifier verifies signatures made by an asymmetric KMS key. The public
// key is fetched once and verification happens locally.
type KMSVerifier struct {
	client publicKeyGetter
	keyID  string

	// AllowPKCS1v15 accepts RSA PKCS#1 v1.5 signatures when PSS fails.
	AllowPKCS1v15 bool

	mu  sync.RWMutex
	pub crypto.PublicKey
}

func NewKMSVerifier(client publicKeyGetter, keyID string) *KMSVerifier {
	return &KMSVerifier{client: client, keyID: keyID}
}

// PublicKey returns the cached key, fetching it from KMS on first use.
func (v *KMSVerifier) PublicKey(ctx context.Context) (crypto.PublicKey, error) {
	v.mu.RLock()
	pub := v.pub
	v.mu.RUnlock()
	if pub != nil {
		return pub, nil
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.pub != nil {
		return v.pub, nil
	}
	if v.client == nil {
		return nil, xerrors.New("kms client is not configured")
	}

	out, err := v.client.GetPublicKey(ctx, &kms.GetPublicKeyInput{KeyId: aws.String(v.keyID)})
	if err != nil {
		return nil, xerrors.Wrapf(err, "kms get public key %s", v.keyID)
	}
	if out.KeyUsage != kmstypes.KeyUsageTypeSignVerify {
		return nil, xerrors.Newf("kms key %s has usage %s, want SIGN_VERIFY", v.keyID, out.KeyUsage)
	}
	parsed, err := x509.ParsePKIXPublicKey(out.PublicKey)
	if err != nil {
		return nil, xerrors.Wrap(err, "parse kms public key")
	}
	v.pub = parsed
	return parsed, nil
}

// VerifySignature checks signature over message. The hash follows the key:
// SHA-384 for P-384, SHA-256 for P-256 and RSA.
func (v *KMSVerifier) VerifySignature(ctx context.Context, message, signature []byte) error {
	pub, err := v.PublicKey(ctx)
	if err != nil {
		return err
	}
	switch key := pub.(type) {
	case *ecdsa.PublicKey:
		return verifyECDSA(key, message, signature)
	case *rsa.PublicKey:
		return verifyRSA(key, message, signature, v.AllowPKCS1v15)
	default:
		return xerrors.Newf("unsupported public key type %T", pub)
	}
}

func verifyECDSA(key *ecdsa.PublicKey, message, signature []byte) error {
	var digest []byte
	switch key.Curve {
	case elliptic.P256():
		d := sha256.Sum256(message)
		digest = d[:]
	case elliptic.P384():
		d := sha512.Sum384(message)
		digest = d[:]
	default:
		return xerrors.Newf("unsupported ECDSA curve %s", key.Curve.Params().Name)
	}
	if !ecdsa.VerifyASN1(key, digest, signature) {
		return xerrors.Newf("ECDSA %s signature does not verify", key.Curve.Params().Name)
	}
	return nil
}

func verifyRSA(key *rsa.PublicKey, message, signature []byte, allowPKCS1v15 bool) error {
	digest := sha256.Sum256(message)
	err := rsa.VerifyPSS(key, crypto.SHA256, digest[:], signature, nil)
	if err == nil {
		return nil
	}
	if !allowPKCS1v15 {
		return xerrors.Wrap(err, "RSA-PSS signature does not verify")
	}
	if err := rsa.VerifyPKCS1v15(key, crypto.SHA256, digest[:], signature); err != nil {
		return xerrors.Wrap(err, "RSA signature does not verify as PSS or PKCS#1 v1.5")
	}
	return nil
}
