package config

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"math/big"
	"os"
	"os/user"
	"strconv"
	"strings"
)

// obfuscatedPrefix marks values written by Obfuscate.
const obfuscatedPrefix = "obf1:"

// UID returns the key used for credential obfuscation: the OS uid, or on
// systems without one a number derived from the login name.
func UID() int {
	if uid := os.Getuid(); uid >= 0 {
		return uid
	}
	name := os.Getenv("USER")
	if u, err := user.Current(); err == nil {
		name = u.Username
	}
	return fakeUID(name)
}

func fakeUID(login string) int {
	sum := md5.Sum([]byte(login))
	n := new(big.Int).SetBytes(sum[:])
	return int(n.Mod(n, big.NewInt(10000)).Int64())
}

func keystream(uid, n int) []byte {
	out := make([]byte, 0, n)
	seed := []byte("brocoli:" + strconv.Itoa(uid))
	for block := 0; len(out) < n; block++ {
		h := sha256.Sum256(append(seed, byte(block), byte(block>>8)))
		out = append(out, h[:]...)
	}
	return out[:n]
}

// Obfuscate scrambles s with an offset keyed by uid so a stored password
// is not plaintext at a glance. It is not encryption.
func Obfuscate(s string, uid int) string {
	key := keystream(uid, len(s))
	buf := []byte(s)
	for i := range buf {
		buf[i] += key[i]
	}
	return obfuscatedPrefix + base64.RawURLEncoding.EncodeToString(buf)
}

// IsObfuscated reports whether s was written by Obfuscate.
func IsObfuscated(s string) bool {
	return strings.HasPrefix(s, obfuscatedPrefix)
}

// Deobfuscate reverses Obfuscate for the same uid.
func Deobfuscate(s string, uid int) (string, error) {
	if !IsObfuscated(s) {
		return "", fmt.Errorf("value is not obfuscated")
	}
	buf, err := base64.RawURLEncoding.DecodeString(s[len(obfuscatedPrefix):])
	if err != nil {
		return "", fmt.Errorf("failed to decode obfuscated value: %w", err)
	}
	key := keystream(uid, len(buf))
	for i := range buf {
		buf[i] -= key[i]
	}
	return string(buf), nil
}
