package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"

	"github.com/nkiryanov/plany/internal/apperrors"
)

// Hash algorithms recognized by their encoded prefix
type Algorithm string

const (
	AlgorithmArgon2id Algorithm = "argon2id"
	AlgorithmBcrypt   Algorithm = "bcrypt" // legacy, verify only
)

// Argon2id cost profile
type Argon2Params struct {
	Time      uint32
	MemoryKiB uint32
	Threads   uint8
	KeyLen    uint32
	SaltLen   uint32
}

var DefaultArgon2Params = Argon2Params{
	Time:      3,
	MemoryKiB: 64 * 1024,
	Threads:   2,
	KeyLen:    32,
	SaltLen:   16,
}

// Hasher hashes passwords with argon2id and verifies both argon2id and legacy bcrypt hashes
// The algorithm is detected from hash prefix, never guessed from verification errors
type Hasher struct {
	params Argon2Params
}

var DefaultHasher = NewHasher(DefaultArgon2Params)

// Zero fields of params are replaced with defaults
func NewHasher(params Argon2Params) *Hasher {
	setDefault := func(field *uint32, def uint32) {
		if *field == 0 {
			*field = def
		}
	}
	setDefault(&params.Time, DefaultArgon2Params.Time)
	setDefault(&params.MemoryKiB, DefaultArgon2Params.MemoryKiB)
	setDefault(&params.KeyLen, DefaultArgon2Params.KeyLen)
	setDefault(&params.SaltLen, DefaultArgon2Params.SaltLen)
	if params.Threads == 0 {
		params.Threads = DefaultArgon2Params.Threads
	}

	return &Hasher{params: params}
}

// Hash password with argon2id and encode it in PHC string format:
// $argon2id$v=19$m=65536,t=3,p=2$<salt>$<key>
func (h *Hasher) Hash(password string) (string, error) {
	if password == "" {
		return "", errors.New("password must not be empty")
	}

	salt := make([]byte, h.params.SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("error while generating salt. Err: %w", err)
	}

	key := argon2.IDKey([]byte(password), salt, h.params.Time, h.params.MemoryKiB, h.params.Threads, h.params.KeyLen)

	return fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, h.params.MemoryKiB, h.params.Time, h.params.Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Compare known hashedPassword and user provided password
// Returns nil on match, apperrors.ErrPasswordMismatch on mismatch
// and apperrors.ErrInvalidHashFormat if hash could not be understood
func (h *Hasher) Compare(hashedPassword string, password string) error {
	alg, err := Identify(hashedPassword)
	if err != nil {
		return err
	}

	switch alg {
	case AlgorithmArgon2id:
		return compareArgon2id(hashedPassword, password)
	default:
		return compareBcrypt(hashedPassword, password)
	}
}

// NeedsRehash reports whether hash was produced by legacy algorithm or weaker argon2id profile
func (h *Hasher) NeedsRehash(hashedPassword string) bool {
	alg, err := Identify(hashedPassword)
	if err != nil || alg != AlgorithmArgon2id {
		return true
	}

	p, _, key, err := decodeArgon2id(hashedPassword)
	if err != nil {
		return true
	}

	return p.Time < h.params.Time ||
		p.MemoryKiB < h.params.MemoryKiB ||
		p.Threads < h.params.Threads ||
		uint32(len(key)) < h.params.KeyLen
}

// Identify hash algorithm by its prefix
func Identify(hashedPassword string) (Algorithm, error) {
	switch {
	case strings.HasPrefix(hashedPassword, "$argon2id$"):
		return AlgorithmArgon2id, nil
	case strings.HasPrefix(hashedPassword, "$2a$"),
		strings.HasPrefix(hashedPassword, "$2b$"),
		strings.HasPrefix(hashedPassword, "$2y$"):
		return AlgorithmBcrypt, nil
	default:
		return "", fmt.Errorf("unknown hash prefix: %w", apperrors.ErrInvalidHashFormat)
	}
}

func compareArgon2id(hashedPassword string, password string) error {
	p, salt, key, err := decodeArgon2id(hashedPassword)
	if err != nil {
		return err
	}

	other := argon2.IDKey([]byte(password), salt, p.Time, p.MemoryKiB, p.Threads, uint32(len(key)))
	if subtle.ConstantTimeCompare(key, other) != 1 {
		return apperrors.ErrPasswordMismatch
	}

	return nil
}

func decodeArgon2id(hashedPassword string) (Argon2Params, []byte, []byte, error) {
	var p Argon2Params

	// "", "argon2id", "v=19", "m=..,t=..,p=..", salt, key
	parts := strings.Split(hashedPassword, "$")
	if len(parts) != 6 {
		return p, nil, nil, fmt.Errorf("argon2id hash has %d parts: %w", len(parts), apperrors.ErrInvalidHashFormat)
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return p, nil, nil, fmt.Errorf("unsupported argon2 version %q: %w", parts[2], apperrors.ErrInvalidHashFormat)
	}

	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.MemoryKiB, &p.Time, &p.Threads); err != nil {
		return p, nil, nil, fmt.Errorf("invalid argon2 params %q: %w", parts[3], apperrors.ErrInvalidHashFormat)
	}
	if p.Time == 0 || p.MemoryKiB == 0 || p.Threads == 0 {
		return p, nil, nil, fmt.Errorf("zero argon2 params %q: %w", parts[3], apperrors.ErrInvalidHashFormat)
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil || len(salt) == 0 {
		return p, nil, nil, fmt.Errorf("invalid argon2 salt: %w", apperrors.ErrInvalidHashFormat)
	}

	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(key) == 0 {
		return p, nil, nil, fmt.Errorf("invalid argon2 key: %w", apperrors.ErrInvalidHashFormat)
	}

	p.SaltLen = uint32(len(salt))
	p.KeyLen = uint32(len(key))

	return p, salt, key, nil
}

// Legacy hashes are bcrypt over sha256 digest of the password (bcrypt truncates input at 72 bytes)
func compareBcrypt(hashedPassword string, password string) error {
	sum := sha256.Sum256([]byte(password))
	err := bcrypt.CompareHashAndPassword([]byte(hashedPassword), sum[:])

	switch {
	case err == nil:
		return nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return apperrors.ErrPasswordMismatch
	default:
		return fmt.Errorf("bcrypt: %v: %w", err, apperrors.ErrInvalidHashFormat)
	}
}

// Produce legacy hash. Exists to migrate and test old records only
func legacyBcryptHash(password string, cost int) (string, error) {
	sum := sha256.Sum256([]byte(password))
	hash, err := bcrypt.GenerateFromPassword(sum[:], cost)
	return string(hash), err
}
