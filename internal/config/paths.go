package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	appDirName    = "forgecli"
	cacheFileName = "entitlements.json"
)

// ResolveCachePath resolves the verification cache file location: the explicit
// override when set, otherwise a file under the per-user cache directory.
func (c LicenseConfig) ResolveCachePath() (string, error) {
	if c.CachePath != "" {
		return c.CachePath, nil
	}
	base, err := os.UserCacheDir()
	if err != nil {
		// Headless environments without HOME fall back to the working
		// directory; the cache is advisory.
		return filepath.Join("."+appDirName, cacheFileName), nil
	}
	return filepath.Join(base, appDirName, cacheFileName), nil
}

// PublicKeyPEM returns the license signing public key: the file override
// when configured, otherwise the embedded key.
func (c LicenseConfig) PublicKeyPEM() ([]byte, error) {
	if c.PublicKeyPath == "" {
		return []byte(embeddedLicensePublicKey), nil
	}
	data, err := os.ReadFile(c.PublicKeyPath)
	if err != nil {
		return nil, fmt.Errorf("read license public key: %w", err)
	}
	return data, nil
}

// FileExists reports whether path exists and is not a directory.
func FileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
