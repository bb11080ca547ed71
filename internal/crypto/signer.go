// Package crypto signs and verifies API requests with secp256k1 keys, so a
// caller can prove which Ethereum address it acts for.
package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/parimarket/internal/domain"
)

// Header names carrying a signed request.
const (
	HeaderPrincipal = "X-Principal"
	HeaderTimestamp = "X-Timestamp"
	HeaderSignature = "X-Signature"
)

// requestDomain separates request signatures from any other message the
// same key might sign.
const requestDomain = "parimarket"

// RequestDigest returns the 32-byte digest a caller signs for one request:
//
//	keccak256("parimarket\n" || method || "\n" || path || "\n" || timestamp || "\n" || keccak256(body))
//
// timestamp is unix seconds in decimal.
func RequestDigest(method, path string, timestamp int64, body []byte) []byte {
	return ethcrypto.Keccak256(
		concatBytes(
			[]byte(requestDomain+"\n"),
			[]byte(strings.ToUpper(method)+"\n"),
			[]byte(path+"\n"),
			[]byte(strconv.FormatInt(timestamp, 10)+"\n"),
			ethcrypto.Keccak256(body),
		),
	)
}

// Signer holds a private key used to sign requests.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewSigner creates a Signer from a hex-encoded secp256k1 private key.
func NewSigner(privateKeyHex string) (*Signer, error) {
	keyHex := strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x")
	pk, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}
	return &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
	}, nil
}

// Address returns the Ethereum address derived from the signer's key.
func (s *Signer) Address() common.Address {
	return s.address
}

// SignRequest returns the hex signature over RequestDigest as an EIP-191
// personal message.
func (s *Signer) SignRequest(method, path string, timestamp int64, body []byte) (string, error) {
	return s.signDigest(textHash(RequestDigest(method, path, timestamp, body)))
}

// signDigest signs a 32-byte digest and returns r || s || v as hex.
func (s *Signer) signDigest(digest []byte) (string, error) {
	sig, err := ethcrypto.Sign(digest, s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: signing: %w", err)
	}

	// go-ethereum returns v in {0,1}; wallets emit {27,28}.
	if sig[64] < 27 {
		sig[64] += 27
	}
	return "0x" + hex.EncodeToString(sig), nil
}

// RecoverRequestSigner returns the address that produced sigHex over the
// request. Malformed or unrecoverable signatures wrap domain.ErrBadSigner.
func RecoverRequestSigner(method, path string, timestamp int64, body []byte, sigHex string) (common.Address, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(sigHex), "0x"))
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto/signer: decode signature: %w", domain.ErrBadSigner)
	}
	if len(sig) != ethcrypto.SignatureLength {
		return common.Address{}, fmt.Errorf("crypto/signer: signature is %d bytes: %w", len(sig), domain.ErrBadSigner)
	}
	if sig[64] >= 27 {
		sig[64] -= 27
	}

	digest := textHash(RequestDigest(method, path, timestamp, body))
	pub, err := ethcrypto.SigToPub(digest, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto/signer: recover: %v: %w", err, domain.ErrBadSigner)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// textHash wraps digest in the EIP-191 personal message prefix and hashes it.
func textHash(digest []byte) []byte {
	prefix := "\x19Ethereum Signed Message:\n" + strconv.Itoa(len(digest))
	return ethcrypto.Keccak256([]byte(prefix), digest)
}

// concatBytes concatenates multiple byte slices into one.
func concatBytes(slices ...[]byte) []byte {
	total := 0
	for _, s := range slices {
		total += len(s)
	}
	buf := make([]byte, 0, total)
	for _, s := range slices {
		buf = append(buf, s...)
	}
	return buf
}
