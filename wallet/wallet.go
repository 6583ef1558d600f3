package wallet

import (
	"crypto/sha256"
	"encoding/hex"
	"math/big"
	"sync"

	"github.com/btcsuite/btcd/btcec"
	"github.com/btcsuite/btcutil/base58"
	"github.com/confirmledger/commonconst"
	"github.com/confirmledger/meta"
	"github.com/confirmledger/util"
	"github.com/pkg/errors"
)

const (
	privateKeySize = 32
	//X || Y without the 0x04 prefix
	PublicKeySize = 64
	addressSize   = 1 + 20 + 4
)

// Identity is a key pair plus the address derived from it.
type Identity struct {
	Address   string
	PublicKey []byte
	key       *btcec.PrivateKey
}

//生成公私钥
func GenerateKeyPair() (*Identity, error) {
	key, err := btcec.NewPrivateKey(btcec.S256())
	if err != nil {
		return nil, errors.Wrap(err, "generate secp256k1 key")
	}
	return newIdentity(key), nil
}

func newIdentity(key *btcec.PrivateKey) *Identity {
	pub := SerializePublicKey(key.PubKey())
	return &Identity{
		Address:   DeriveAddress(pub),
		PublicKey: pub,
		key:       key,
	}
}

// ImportPrivateKey rebuilds an identity from a raw 32-byte scalar.
func ImportPrivateKey(b []byte) (*Identity, error) {
	if len(b) != privateKeySize {
		return nil, errors.Wrapf(meta.ErrInvalidKey, "length %d", len(b))
	}
	d := new(big.Int).SetBytes(b)
	if d.Sign() == 0 || d.Cmp(btcec.S256().N) >= 0 {
		return nil, errors.Wrap(meta.ErrInvalidKey, "scalar out of curve order")
	}
	key, _ := btcec.PrivKeyFromBytes(btcec.S256(), b)
	return newIdentity(key), nil
}

func ImportPrivateKeyHex(s string) (*Identity, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, errors.Wrap(meta.ErrInvalidKey, "not hex")
	}
	return ImportPrivateKey(b)
}

func (id *Identity) PrivateKeyHex() string {
	return hex.EncodeToString(id.key.Serialize())
}

func (id *Identity) PublicKeyHex() string {
	return hex.EncodeToString(id.PublicKey)
}

// Sign signs sha256(msg) and returns the DER signature hex encoded.
func (id *Identity) Sign(msg []byte) (string, error) {
	digest := sha256.Sum256(msg)
	sig, err := id.key.Sign(digest[:])
	if err != nil {
		return "", errors.Wrap(err, "sign")
	}
	return hex.EncodeToString(sig.Serialize()), nil
}

// VerifySignature never errors: any malformed input is simply false.
func VerifySignature(pub []byte, msg []byte, sigHex string) bool {
	pk, err := ParsePublicKey(pub)
	if err != nil {
		return false
	}
	raw, err := hex.DecodeString(sigHex)
	if err != nil {
		return false
	}
	sig, err := btcec.ParseDERSignature(raw, btcec.S256())
	if err != nil {
		return false
	}
	digest := sha256.Sum256(msg)
	return sig.Verify(digest[:], pk)
}

func SerializePublicKey(pk *btcec.PublicKey) []byte {
	return pk.SerializeUncompressed()[1:]
}

func ParsePublicKey(b []byte) (*btcec.PublicKey, error) {
	if len(b) != PublicKeySize {
		return nil, errors.Errorf("public key length %d", len(b))
	}
	full := append([]byte{0x04}, b...)
	return btcec.ParsePubKey(full, btcec.S256())
}

//生成地址: version || sha256d(pub)[:20] || checksum
func DeriveAddress(pub []byte) string {
	hash160 := util.DoubleHash(pub)[:20]
	payload := append([]byte{commonconst.AddressVersion}, hash160...)
	checksum := util.DoubleHash(payload)[:4]
	return base58.Encode(append(payload, checksum...))
}

//校验地址
func ValidateAddress(addr string) bool {
	decoded := base58.Decode(addr)
	if len(decoded) != addressSize {
		return false
	}
	if decoded[0] != commonconst.AddressVersion {
		return false
	}
	payload, checksum := decoded[:addressSize-4], decoded[addressSize-4:]
	expect := util.DoubleHash(payload)[:4]
	for i := range checksum {
		if checksum[i] != expect[i] {
			return false
		}
	}
	return true
}

// KeyRegistry resolves the public key registered for an address.
type KeyRegistry interface {
	PublicKey(addr string) ([]byte, bool)
}

// KeyStore is a registry that also accepts new keys.
type KeyStore interface {
	KeyRegistry
	RegisterPublicKey(pub []byte) (string, error)
}

type MemoryRegistry struct {
	mu   sync.RWMutex
	keys map[string][]byte
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{keys: make(map[string][]byte)}
}

// Register stores pub under the address it derives to.
func (r *MemoryRegistry) Register(pub []byte) string {
	addr := DeriveAddress(pub)
	r.mu.Lock()
	r.keys[addr] = append([]byte(nil), pub...)
	r.mu.Unlock()
	return addr
}

func (r *MemoryRegistry) RegisterPublicKey(pub []byte) (string, error) {
	return r.Register(pub), nil
}

func (r *MemoryRegistry) Remove(addr string) {
	r.mu.Lock()
	delete(r.keys, addr)
	r.mu.Unlock()
}

func (r *MemoryRegistry) PublicKey(addr string) ([]byte, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	pub, ok := r.keys[addr]
	return pub, ok
}
