package crypto

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
)

var errSignatureLength = errors.New("crypto: signature must be 65 bytes")

// PersonalHash applies the "\x19Ethereum Signed Message" envelope that
// browser wallets use for personal_sign.
func PersonalHash(message []byte) []byte {
	prefix := fmt.Sprintf("\x19Ethereum Signed Message:\n%d", len(message))
	return crypto.Keccak256([]byte(prefix), message)
}

// SignPersonal produces a 65-byte [R || S || V] signature with V in {27, 28},
// matching the wallet encoding.
func (k *PrivateKey) SignPersonal(message []byte) ([]byte, error) {
	sig, err := crypto.Sign(PersonalHash(message), k.PrivateKey)
	if err != nil {
		return nil, err
	}
	sig[64] += 27
	return sig, nil
}

// RecoverPersonal returns the address that produced sig over message.
func RecoverPersonal(message, sig []byte) ([20]byte, error) {
	if len(sig) != 65 {
		return [20]byte{}, errSignatureLength
	}
	normalized := append([]byte(nil), sig...)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}
	pub, err := crypto.SigToPub(PersonalHash(message), normalized)
	if err != nil {
		return [20]byte{}, fmt.Errorf("crypto: recover signer: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}
