package crypto

import (
	"crypto/ecdsa"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/parimutuel/internal/domain"
)

// Request identity headers.
const (
	HeaderAccount   = "X-Account"
	HeaderTimestamp = "X-Timestamp"
	HeaderSignature = "X-Signature"
)

// DefaultMaxSkew bounds how far a request timestamp may drift from the
// server clock.
const DefaultMaxSkew = 5 * time.Minute

// RequestMessage is the text a caller signs for one HTTP request:
//
//	parimutuel request
//	POST /api/markets/3/stake
//	1767225600
//	0x<keccak256(body)>
func RequestMessage(method, path string, unix int64, body []byte) string {
	return fmt.Sprintf("parimutuel request\n%s %s\n%d\n%s",
		strings.ToUpper(method), path, unix, ethcrypto.Keccak256Hash(body).Hex())
}

// RequestHash is the EIP-191 personal-sign digest of RequestMessage.
func RequestHash(method, path string, unix int64, body []byte) []byte {
	return accounts.TextHash([]byte(RequestMessage(method, path, unix, body)))
}

// Signer signs requests with a secp256k1 key.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewSigner creates a Signer from a hex-encoded private key.
func NewSigner(privateKeyHex string) (*Signer, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}
	return &Signer{privateKey: pk, address: ethcrypto.PubkeyToAddress(pk.PublicKey)}, nil
}

// GenerateSigner creates a Signer with a fresh random key.
func GenerateSigner() (*Signer, error) {
	pk, err := ethcrypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: generate key: %w", err)
	}
	return &Signer{privateKey: pk, address: ethcrypto.PubkeyToAddress(pk.PublicKey)}, nil
}

// Address returns the account the signer speaks for.
func (s *Signer) Address() common.Address {
	return s.address
}

// PrivateKeyHex returns the key without 0x prefix.
func (s *Signer) PrivateKeyHex() string {
	return common.Bytes2Hex(ethcrypto.FromECDSA(s.privateKey))
}

// SignRequest returns the identity headers for a request sent at t.
func (s *Signer) SignRequest(method, path string, body []byte, t time.Time) (map[string]string, error) {
	unix := t.Unix()
	sig, err := ethcrypto.Sign(RequestHash(method, path, unix, body), s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: signing: %w", err)
	}
	// Wallets produce v in {27,28}.
	sig[64] += 27
	return map[string]string{
		HeaderAccount:   s.address.Hex(),
		HeaderTimestamp: strconv.FormatInt(unix, 10),
		HeaderSignature: hexutil.Encode(sig),
	}, nil
}

// RecoverRequest returns the account that produced sigHex over the request.
func RecoverRequest(method, path string, unix int64, body []byte, sigHex string) (common.Address, error) {
	sig, err := hexutil.Decode(sigHex)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", domain.ErrInvalidSignature, err)
	}
	if len(sig) != ethcrypto.SignatureLength {
		return common.Address{}, fmt.Errorf("%w: length %d", domain.ErrInvalidSignature, len(sig))
	}
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	pub, err := ethcrypto.SigToPub(RequestHash(method, path, unix, body), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", domain.ErrInvalidSignature, err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// VerifyRequest checks the identity headers of a request received at now and
// returns the authenticated account.
func VerifyRequest(method, path string, body []byte, account, timestamp, sigHex string, now time.Time, maxSkew time.Duration) (common.Address, error) {
	if !common.IsHexAddress(account) {
		return common.Address{}, fmt.Errorf("%w: account %q", domain.ErrInvalidSignature, account)
	}
	unix, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: timestamp %q", domain.ErrInvalidSignature, timestamp)
	}
	if skew := now.Sub(time.Unix(unix, 0)).Abs(); skew > maxSkew {
		return common.Address{}, fmt.Errorf("%w: timestamp skew %s", domain.ErrInvalidSignature, skew.Round(time.Second))
	}
	signer, err := RecoverRequest(method, path, unix, body, sigHex)
	if err != nil {
		return common.Address{}, err
	}
	if claimed := common.HexToAddress(account); signer != claimed {
		return common.Address{}, fmt.Errorf("%w: signed by %s, not %s", domain.ErrInvalidSignature, signer.Hex(), claimed.Hex())
	}
	return signer, nil
}
