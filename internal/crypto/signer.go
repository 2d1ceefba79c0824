package crypto

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/limitorder/internal/domain"
)

var (
	// EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)
	eip712DomainTypeHash = ethcrypto.Keccak256(
		[]byte("EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"),
	)

	limitOrderTypeHash = ethcrypto.Keccak256(
		[]byte("LimitOrder(address account,address sender,string nonce,address srcToken,address destToken,uint256 srcAmount,uint256 targetRate,uint32 fee,uint32 transferFee,uint8 side)"),
	)
)

const (
	domainName    = "LimitOrderBook"
	domainVersion = "1"
)

// OrderPayload is the exact set of fields covered by an order signature.
type OrderPayload struct {
	Account     common.Address
	Sender      common.Address
	Nonce       string
	SrcToken    common.Address
	DestToken   common.Address
	SrcAmount   *big.Int
	TargetRate  *big.Int
	Fee         uint32
	TransferFee uint32
	Side        uint8 // 0 = sell, 1 = buy
}

// PayloadFor builds the signed payload of o for account.
func PayloadFor(account common.Address, o domain.Order) OrderPayload {
	side := uint8(0)
	if o.Side == domain.OrderSideBuy {
		side = 1
	}
	return OrderPayload{
		Account:     account,
		Sender:      o.Sender,
		Nonce:       o.Nonce,
		SrcToken:    o.Src.Address,
		DestToken:   o.Dest.Address,
		SrcAmount:   orZero(o.SourceAmount),
		TargetRate:  orZero(o.TargetRate),
		Fee:         o.FeePPM,
		TransferFee: o.TransferFeePPM,
		Side:        side,
	}
}

// Encode returns the EIP-712 encoded struct, type hash included.
func (p OrderPayload) Encode() []byte {
	return concatBytes(
		limitOrderTypeHash,
		common.LeftPadBytes(p.Account.Bytes(), 32),
		common.LeftPadBytes(p.Sender.Bytes(), 32),
		ethcrypto.Keccak256([]byte(p.Nonce)),
		common.LeftPadBytes(p.SrcToken.Bytes(), 32),
		common.LeftPadBytes(p.DestToken.Bytes(), 32),
		bigIntTo32Bytes(orZero(p.SrcAmount)),
		bigIntTo32Bytes(orZero(p.TargetRate)),
		bigIntTo32Bytes(new(big.Int).SetUint64(uint64(p.Fee))),
		bigIntTo32Bytes(new(big.Int).SetUint64(uint64(p.TransferFee))),
		bigIntTo32Bytes(big.NewInt(int64(p.Side))),
	)
}

// Equal reports whether two payloads encode to identical bytes.
func (p OrderPayload) Equal(q OrderPayload) bool {
	return bytes.Equal(p.Encode(), q.Encode())
}

// Signer produces EIP-712 signatures over limit orders.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	domainSep  []byte
}

// NewSigner creates a Signer from a hex-encoded secp256k1 private key for
// the order book contract at verifyingContract on chainID.
func NewSigner(privateKeyHex string, chainID int64, verifyingContract common.Address) (*Signer, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}
	return &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
		domainSep:  domainSeparator(chainID, verifyingContract),
	}, nil
}

// Address returns the account that signs orders.
func (s *Signer) Address() common.Address {
	return s.address
}

// Payload returns the payload this signer would sign for o.
func (s *Signer) Payload(o domain.Order) OrderPayload {
	return PayloadFor(s.address, o)
}

// SignOrder returns a 65-byte hex signature over o.
func (s *Signer) SignOrder(o domain.Order) (string, error) {
	if o.Nonce == "" {
		return "", errors.New("crypto/signer: order has no nonce")
	}
	return s.signDigest(s.Digest(s.Payload(o)))
}

// Digest returns the EIP-712 digest of p under this signer's domain.
func (s *Signer) Digest(p OrderPayload) []byte {
	return eip712Hash(s.domainSep, ethcrypto.Keccak256(p.Encode()))
}

// Recover returns the address that produced sig over digest.
func Recover(digest []byte, sig string) (common.Address, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(sig, "0x"))
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto/signer: decoding signature: %w", err)
	}
	if len(raw) != 65 {
		return common.Address{}, fmt.Errorf("crypto/signer: signature is %d bytes, want 65", len(raw))
	}
	if raw[64] >= 27 {
		raw[64] -= 27
	}
	pub, err := ethcrypto.SigToPub(digest, raw)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto/signer: recovering key: %w", err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

func domainSeparator(chainID int64, verifyingContract common.Address) []byte {
	return ethcrypto.Keccak256(
		concatBytes(
			eip712DomainTypeHash,
			ethcrypto.Keccak256([]byte(domainName)),
			ethcrypto.Keccak256([]byte(domainVersion)),
			bigIntTo32Bytes(big.NewInt(chainID)),
			common.LeftPadBytes(verifyingContract.Bytes(), 32),
		),
	)
}

// eip712Hash computes keccak256("\x19\x01" || domainSeparator || structHash).
func eip712Hash(domainSep, structHash []byte) []byte {
	return ethcrypto.Keccak256(concatBytes([]byte{0x19, 0x01}, domainSep, structHash))
}

// signDigest signs a 32-byte digest and returns r || s || v with v in
// {27,28}.
func (s *Signer) signDigest(digest []byte) (string, error) {
	sig, err := ethcrypto.Sign(digest, s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: signing: %w", err)
	}
	if sig[64] < 27 {
		sig[64] += 27
	}
	return "0x" + hex.EncodeToString(sig), nil
}

func orZero(n *big.Int) *big.Int {
	if n == nil {
		return new(big.Int)
	}
	return n
}

// bigIntTo32Bytes returns a 32-byte big-endian representation of n.
func bigIntTo32Bytes(n *big.Int) []byte {
	return common.LeftPadBytes(n.Bytes(), 32)
}

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
