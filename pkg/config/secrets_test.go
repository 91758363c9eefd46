package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestEncryptDecryptSecretsRoundTrip(t *testing.T) {
	tmpDir := t.TempDir()

	password := "test-password-12345"
	secrets := map[string]string{
		EnvOpenAIAPIKeys:   "sk-one,sk-two",
		EnvAnthropicAPIKey: "sk-ant-test123",
	}

	if err := EncryptSecretsFile(tmpDir, password, secrets); err != nil {
		t.Fatalf("Failed to encrypt secrets: %v", err)
	}

	secretsPath := filepath.Join(tmpDir, ProjectConfigDir, secretsFileName)
	info, err := os.Stat(secretsPath)
	if err != nil {
		t.Fatalf("Secrets file was not created: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("Expected file permissions 0600, got %04o", info.Mode().Perm())
	}
	if !SecretsFileExists(tmpDir) {
		t.Error("Expected SecretsFileExists to report true")
	}

	decrypted, err := DecryptSecretsFile(tmpDir, password)
	if err != nil {
		t.Fatalf("Failed to decrypt secrets: %v", err)
	}
	for key, expected := range secrets {
		if decrypted[key] != expected {
			t.Errorf("Secret %s: expected %q, got %q", key, expected, decrypted[key])
		}
	}
}

func TestDecryptWithWrongPassword(t *testing.T) {
	tmpDir := t.TempDir()
	if err := EncryptSecretsFile(tmpDir, "right", map[string]string{"A": "b"}); err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if _, err := DecryptSecretsFile(tmpDir, "wrong"); err == nil {
		t.Error("Expected error with wrong password")
	}
}

func TestResolveAPIKeysRotationList(t *testing.T) {
	SetDecryptedSecrets(map[string]string{EnvOpenAIAPIKeys: "sk-a, sk-b,\nsk-c"})
	defer SetDecryptedSecrets(nil)

	keys, err := ResolveAPIKeys(ProviderOpenAI)
	if err != nil {
		t.Fatalf("ResolveAPIKeys: %v", err)
	}
	want := []string{"sk-a", "sk-b", "sk-c"}
	if len(keys) != len(want) {
		t.Fatalf("Expected %v, got %v", want, keys)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("key %d: expected %q, got %q", i, want[i], keys[i])
		}
	}
}

func TestResolveAPIKeysFallsBackToEnv(t *testing.T) {
	SetDecryptedSecrets(nil)
	t.Setenv(EnvAnthropicAPIKey, "sk-ant-env")

	keys, err := ResolveAPIKeys(ProviderAnthropic)
	if err != nil {
		t.Fatalf("ResolveAPIKeys: %v", err)
	}
	if len(keys) != 1 || keys[0] != "sk-ant-env" {
		t.Errorf("Expected env key, got %v", keys)
	}
}

func TestResolveAPIKeysOllamaNeedsNone(t *testing.T) {
	keys, err := ResolveAPIKeys(ProviderOllama)
	if err != nil || keys != nil {
		t.Errorf("Expected no keys and no error, got %v, %v", keys, err)
	}
}

func TestResolveBaseURL(t *testing.T) {
	t.Setenv(EnvOllamaHost, "")
	if got := ResolveBaseURL(ProviderOllama, ""); got != "http://localhost:11434" {
		t.Errorf("unexpected ollama default %q", got)
	}
	if got := ResolveBaseURL(ProviderAzure, "https://example.openai.azure.com"); got != "https://example.openai.azure.com" {
		t.Errorf("configured URL should win, got %q", got)
	}
}
