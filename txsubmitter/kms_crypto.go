package txsubmitter

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/asn1"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/crypto"
)

// subjectPublicKeyInfo is the ASN.1 shape KMS's GetPublicKey response uses.
// crypto/x509 cannot parse it directly since secp256k1 is not one of the
// curves its OID table recognizes.
type subjectPublicKeyInfo struct {
	Algorithm        asn1.RawValue
	SubjectPublicKey asn1.BitString
}

func parseECDSASubjectPublicKeyInfo(der []byte) (*ecdsa.PublicKey, error) {
	var spki subjectPublicKeyInfo
	if _, err := asn1.Unmarshal(der, &spki); err != nil {
		return nil, fmt.Errorf("unmarshal SubjectPublicKeyInfo: %w", err)
	}
	pub, err := crypto.UnmarshalPubkey(spki.SubjectPublicKey.Bytes)
	if err != nil {
		return nil, fmt.Errorf("unmarshal EC point: %w", err)
	}
	return pub, nil
}

// ecdsaSignatureASN1 is the DER ECDSA-Sig-Value KMS's Sign response carries.
type ecdsaSignatureASN1 struct {
	R, S *big.Int
}

func unmarshalDERSignature(der []byte) (r, s *big.Int, err error) {
	var sig ecdsaSignatureASN1
	if _, err := asn1.Unmarshal(der, &sig); err != nil {
		return nil, nil, fmt.Errorf("unmarshal ECDSA-Sig-Value: %w", err)
	}
	return sig.R, sig.S, nil
}

var secp256k1HalfN = new(big.Int).Rsh(crypto.S256().Params().N, 1)

// recoverableSignature normalizes s to the lower half of the curve order
// (Ethereum's malleability rule) and finds the recovery id matching pubKey,
// since a KMS signature carries no recovery id.
func recoverableSignature(hash []byte, r, s *big.Int, pubKey *ecdsa.PublicKey) ([]byte, error) {
	n := crypto.S256().Params().N
	if s.Cmp(secp256k1HalfN) > 0 {
		s = new(big.Int).Sub(n, s)
	}

	rBytes := make([]byte, 32)
	sBytes := make([]byte, 32)
	r.FillBytes(rBytes)
	s.FillBytes(sBytes)
	want := crypto.FromECDSAPub(pubKey)

	for v := byte(0); v < 2; v++ {
		sig := append(append(append([]byte{}, rBytes...), sBytes...), v)
		recovered, err := crypto.Ecrecover(hash, sig)
		if err != nil {
			continue
		}
		if bytes.Equal(recovered, want) {
			return sig, nil
		}
	}
	return nil, fmt.Errorf("txsubmitter: could not recover a signature matching the kms public key")
}
