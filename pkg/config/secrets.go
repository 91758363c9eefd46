package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/crypto/scrypt"
)

// Environment variables consulted for credentials.
const (
	EnvOpenAIAPIKey    = "OPENAI_API_KEY"
	EnvOpenAIAPIKeys   = "OPENAI_API_KEYS" // comma-separated rotation list
	EnvAzureAPIKey     = "AZURE_OPENAI_API_KEY"
	EnvAzureEndpoint   = "AZURE_OPENAI_ENDPOINT"
	EnvAnthropicAPIKey = "ANTHROPIC_API_KEY"
	EnvGoogleAPIKey    = "GOOGLE_GENAI_API_KEY"
	EnvOllamaHost      = "OLLAMA_HOST"
)

const (
	secretsFileName = "secrets.json.enc"
	saltSize        = 16
	nonceSize       = 12
	scryptN         = 32768
	scryptR         = 8
	scryptP         = 1
	keySize         = 32 // AES-256
)

//nolint:gochecknoglobals // in-memory decrypted secrets
var (
	decryptedSecrets    map[string]string
	decryptedSecretsMux sync.RWMutex
)

// SetDecryptedSecrets stores decrypted secrets in memory.
func SetDecryptedSecrets(secrets map[string]string) {
	decryptedSecretsMux.Lock()
	defer decryptedSecretsMux.Unlock()
	decryptedSecrets = secrets
}

// GetSecret returns a secret from the decrypted secrets file, then the environment.
func GetSecret(name string) (string, error) {
	decryptedSecretsMux.RLock()
	if value, ok := decryptedSecrets[name]; ok && value != "" {
		decryptedSecretsMux.RUnlock()
		return value, nil
	}
	decryptedSecretsMux.RUnlock()

	if value := os.Getenv(name); value != "" {
		return value, nil
	}
	return "", fmt.Errorf("secret %s not found in secrets file or environment", name)
}

// ResolveAPIKeys returns the key rotation list for provider. A comma-separated secret
// value yields several keys. Ollama needs no key and returns nil.
func ResolveAPIKeys(provider string) ([]string, error) {
	var names []string
	switch provider {
	case ProviderOpenAI:
		names = []string{EnvOpenAIAPIKeys, EnvOpenAIAPIKey}
	case ProviderAzure:
		names = []string{EnvAzureAPIKey}
	case ProviderAnthropic:
		names = []string{EnvAnthropicAPIKey}
	case ProviderGoogle:
		names = []string{EnvGoogleAPIKey}
	case ProviderOllama:
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown provider: %s", provider)
	}

	for _, name := range names {
		value, err := GetSecret(name)
		if err != nil {
			continue
		}
		if keys := splitKeys(value); len(keys) > 0 {
			return keys, nil
		}
	}
	return nil, fmt.Errorf("API key not found: %s not found in secrets file or environment variables", strings.Join(names, " or "))
}

// ResolveBaseURL returns the configured base URL or the provider's environment default.
func ResolveBaseURL(provider, configured string) string {
	if configured != "" {
		return configured
	}
	switch provider {
	case ProviderAzure:
		v, _ := GetSecret(EnvAzureEndpoint)
		return v
	case ProviderOllama:
		if host := os.Getenv(EnvOllamaHost); host != "" {
			return host
		}
		return "http://localhost:11434"
	}
	return ""
}

func splitKeys(value string) []string {
	var keys []string
	for _, k := range strings.FieldsFunc(value, func(r rune) bool { return r == ',' || r == '\n' }) {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

// SecretsFileExists checks if the encrypted secrets file exists in projectDir.
func SecretsFileExists(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, ProjectConfigDir, secretsFileName))
	return err == nil
}

// EncryptSecretsFile encrypts secrets to .civagent/secrets.json.enc with mode 0600.
// File layout: [salt][nonce][ciphertext+tag].
func EncryptSecretsFile(dir, password string, secrets map[string]string) error {
	passwordBytes := []byte(password)
	defer zero(passwordBytes)

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("failed to generate salt: %w", err)
	}

	gcm, key, err := newGCM(passwordBytes, salt)
	if err != nil {
		return err
	}
	defer zero(key)

	plaintext, err := json.Marshal(secrets)
	if err != nil {
		return fmt.Errorf("failed to marshal secrets: %w", err)
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("failed to generate nonce: %w", err)
	}
	ciphertext := gcm.Seal(nil, nonce, plaintext, nil)

	fileData := make([]byte, 0, saltSize+nonceSize+len(ciphertext))
	fileData = append(fileData, salt...)
	fileData = append(fileData, nonce...)
	fileData = append(fileData, ciphertext...)

	configDir := filepath.Join(dir, ProjectConfigDir)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create %s directory: %w", ProjectConfigDir, err)
	}
	if err := os.WriteFile(filepath.Join(configDir, secretsFileName), fileData, 0600); err != nil {
		return fmt.Errorf("failed to write secrets file: %w", err)
	}
	return nil
}

// DecryptSecretsFile decrypts and returns secrets from .civagent/secrets.json.enc.
func DecryptSecretsFile(dir, password string) (map[string]string, error) {
	path := filepath.Join(dir, ProjectConfigDir, secretsFileName)

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat secrets file: %w", err)
	}
	if info.Mode().Perm() != 0600 {
		LogInfo("⚠️  Secrets file has incorrect permissions (found: %04o, expected: 0600), fixing", info.Mode().Perm())
		if chmodErr := os.Chmod(path, 0600); chmodErr != nil {
			return nil, fmt.Errorf("failed to fix file permissions: %w", chmodErr)
		}
	}

	fileData, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read secrets file: %w", err)
	}
	if len(fileData) < saltSize+nonceSize+16 {
		return nil, fmt.Errorf("secrets file is corrupted or invalid format (too small)")
	}

	salt := fileData[:saltSize]
	nonce := fileData[saltSize : saltSize+nonceSize]
	ciphertext := fileData[saltSize+nonceSize:]

	passwordBytes := []byte(password)
	defer zero(passwordBytes)

	gcm, key, err := newGCM(passwordBytes, salt)
	if err != nil {
		return nil, err
	}
	defer zero(key)

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decryption failed (wrong password or corrupted file)")
	}

	var secrets map[string]string
	if err := json.Unmarshal(plaintext, &secrets); err != nil {
		return nil, fmt.Errorf("failed to parse secrets: %w", err)
	}
	return secrets, nil
}

func newGCM(password, salt []byte) (cipher.AEAD, []byte, error) {
	key, err := scrypt.Key(password, salt, scryptN, scryptR, scryptP, keySize)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to derive encryption key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		zero(key)
		return nil, nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		zero(key)
		return nil, nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, key, nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
