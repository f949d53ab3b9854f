package identity

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/titan/pkg/domain/types"
	"github.com/secmon-lab/titan/pkg/utils/logging"
)

const (
	DefaultKeyBits = 2048
	pemBlockType   = "PRIVATE KEY"
	nodeIDLength   = 8
)

var pssOptions = &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthAuto, Hash: crypto.SHA256}

// KeyFileName returns the file name of the private key for role
func KeyFileName(role types.Role) string {
	return "node_identity_" + role.String() + ".pem"
}

// Identity is the node's persistent RSA keypair plus the per-process node id.
type Identity struct {
	nodeID string
	role   types.Role
	path   string
	key    *rsa.PrivateKey
}

type options struct {
	nodeID  string
	keyBits int
}

// Option configures LoadOrGenerate
type Option func(*options)

// WithNodeID fixes the node id instead of deriving it from a fresh UUID
func WithNodeID(id string) Option {
	return func(o *options) {
		o.nodeID = id
	}
}

// WithKeyBits sets the RSA modulus size used when a new key is generated
func WithKeyBits(bits int) Option {
	return func(o *options) {
		o.keyBits = bits
	}
}

// LoadOrGenerate loads <dir>/node_identity_<role>.pem or creates it when absent.
// A file that exists but does not hold a PKCS8 RSA key is an error.
func LoadOrGenerate(ctx context.Context, dir string, role types.Role, opts ...Option) (*Identity, error) {
	o := &options{keyBits: DefaultKeyBits}
	for _, opt := range opts {
		opt(o)
	}
	if err := role.Validate(); err != nil {
		return nil, err
	}
	if o.nodeID == "" {
		o.nodeID = uuid.NewString()[:nodeIDLength]
	}

	path := filepath.Join(dir, KeyFileName(role))
	logger := logging.From(ctx)

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		key, err := parsePrivateKey(data)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to load node identity", goerr.V(PathKey, path))
		}
		logger.Info("Loaded node identity", "path", path, "role", role, "node_id", o.nodeID)
		return &Identity{nodeID: o.nodeID, role: role, path: path, key: key}, nil

	case errors.Is(err, fs.ErrNotExist):
		// generate below

	default:
		return nil, goerr.Wrap(err, "failed to read node identity", goerr.V(PathKey, path))
	}

	key, err := rsa.GenerateKey(rand.Reader, o.keyBits)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to generate node key", goerr.V("bits", o.keyBits))
	}
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to encode node key")
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, goerr.Wrap(err, "failed to create identity directory", goerr.V(PathKey, dir))
	}
	block := pem.EncodeToMemory(&pem.Block{Type: pemBlockType, Bytes: der})
	if err := renameio.WriteFile(path, block, 0o600); err != nil {
		return nil, goerr.Wrap(err, "failed to write node identity", goerr.V(PathKey, path))
	}

	logger.Info("Generated node identity", "path", path, "role", role, "node_id", o.nodeID)
	return &Identity{nodeID: o.nodeID, role: role, path: path, key: key}, nil
}

func parsePrivateKey(data []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, goerr.Wrap(ErrInvalidKey, "no PEM block found")
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, goerr.Wrap(ErrInvalidKey, "failed to parse PKCS8 key", goerr.V("cause", err.Error()))
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, goerr.Wrap(ErrInvalidKey, "node key is not an RSA key")
	}
	return key, nil
}

// NodeID returns the short node id
func (x *Identity) NodeID() string { return x.nodeID }

// Role returns the role the key belongs to
func (x *Identity) Role() types.Role { return x.role }

// Path returns the key file location
func (x *Identity) Path() string { return x.path }

// Origin is the identity string placed in reply payloads
func (x *Identity) Origin() string { return "Titan." + x.nodeID }

// EchoID is the identifier prepended to reply echo paths
func (x *Identity) EchoID() string { return "TN-" + x.nodeID }

// PublicKey returns the public half of the node key
func (x *Identity) PublicKey() *rsa.PublicKey { return &x.key.PublicKey }

// Sign returns an RSA-PSS SHA-256 signature of data
func (x *Identity) Sign(data []byte) ([]byte, error) {
	digest := sha256.Sum256(data)
	sig, err := rsa.SignPSS(rand.Reader, x.key, crypto.SHA256, digest[:], pssOptions)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to sign data")
	}
	return sig, nil
}

// Verify checks sig against data with the given public key
func Verify(pub *rsa.PublicKey, data, sig []byte) error {
	digest := sha256.Sum256(data)
	if err := rsa.VerifyPSS(pub, crypto.SHA256, digest[:], sig, pssOptions); err != nil {
		return goerr.Wrap(ErrInvalidSignature, "signature verification failed", goerr.V("cause", err.Error()))
	}
	return nil
}

// VerifyHex checks a hex encoded signature against data with the given public key
func VerifyHex(pub *rsa.PublicKey, data []byte, sigHex string) error {
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return goerr.Wrap(ErrInvalidSignature, "signature is not hex", goerr.V("cause", err.Error()))
	}
	return Verify(pub, data, sig)
}

// Verify checks sig against data with the node's own public key
func (x *Identity) Verify(data, sig []byte) error {
	return Verify(x.PublicKey(), data, sig)
}

// JWKS returns the public key as a JSON Web Key Set with the node id as key id.
func (x *Identity) JWKS() (jwk.Set, error) {
	key, err := jwk.FromRaw(x.PublicKey())
	if err != nil {
		return nil, goerr.Wrap(err, "failed to convert public key to JWK")
	}
	for k, v := range map[string]any{
		jwk.KeyIDKey:     x.nodeID,
		jwk.AlgorithmKey: jwa.PS256,
		jwk.KeyUsageKey:  "sig",
	} {
		if err := key.Set(k, v); err != nil {
			return nil, goerr.Wrap(err, "failed to set JWK field", goerr.V("field", k))
		}
	}

	set := jwk.NewSet()
	if err := set.AddKey(key); err != nil {
		return nil, goerr.Wrap(err, "failed to build JWK set")
	}
	return set, nil
}

// PublicKeyFromJWKS returns the RSA key with the given key id from set
func PublicKeyFromJWKS(set jwk.Set, nodeID string) (*rsa.PublicKey, error) {
	key, ok := set.LookupKeyID(nodeID)
	if !ok {
		return nil, goerr.Wrap(ErrInvalidKey, "key id not found in key set", goerr.V("node_id", nodeID))
	}
	var raw any
	if err := key.Raw(&raw); err != nil {
		return nil, goerr.Wrap(ErrInvalidKey, "failed to export key", goerr.V("cause", err.Error()))
	}
	pub, ok := raw.(*rsa.PublicKey)
	if !ok {
		return nil, goerr.Wrap(ErrInvalidKey, "key is not an RSA public key", goerr.V("node_id", nodeID))
	}
	return pub, nil
}
