package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/harunnryd/uketsuke/pkg/receptionist"
)

func TestBuildRootCmd(t *testing.T) {
	cmd := buildRootCmd()
	want := map[string]bool{"serve": false, "chat": false, "version": false}
	for _, sub := range cmd.Commands() {
		if _, ok := want[sub.Name()]; ok {
			want[sub.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Fatalf("expected subcommand %q", name)
		}
	}
	if cmd.Flags().Lookup("version") == nil && cmd.Version == "" {
		t.Fatalf("expected version to be set")
	}
}

func TestServeFlags(t *testing.T) {
	cmd := buildServeCmd()
	if f := cmd.Flags().Lookup("config"); f == nil || f.Shorthand != "c" {
		t.Fatalf("expected --config/-c flag")
	}
	if cmd.Flags().Lookup("debug") == nil {
		t.Fatalf("expected --debug flag")
	}
}

func TestVersionCommand(t *testing.T) {
	cmd := buildRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(out.String(), "receptionist dev") {
		t.Fatalf("unexpected version output %q", out.String())
	}
}

func TestResolveConfigPath(t *testing.T) {
	t.Setenv("UKETSUKE_CONFIG", "/etc/uketsuke.yaml")
	if got := resolveConfigPath(" custom.yaml "); got != "custom.yaml" {
		t.Fatalf("flag should win, got %q", got)
	}
	if got := resolveConfigPath(""); got != "/etc/uketsuke.yaml" {
		t.Fatalf("env should be used, got %q", got)
	}
}

func writeChatConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "receptionist.yaml")
	body := `
vendors:
  llm:
    provider: mock
    settings:
      response_text: かしこまりました。お名前をお伺いしてもよろしいでしょうか。
revision:
  enabled: false
observability:
  metrics_enabled: false
shutdown_timeout_ms: 100
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestRunChat(t *testing.T) {
	in := strings.NewReader("山田部長はいらっしゃいますか\n\nexit\n")
	var out bytes.Buffer
	if err := runChat(context.Background(), writeChatConfig(t), false, in, &out); err != nil {
		t.Fatalf("chat: %v", err)
	}
	got := out.String()
	if !strings.Contains(got, "受付: お電話ありがとうございます。首無し商事株式会社") {
		t.Fatalf("expected spoken greeting, got %q", got)
	}
	if !strings.Contains(got, "受付: かしこまりました。お名前をお伺いしてもよろしいでしょうか。") {
		t.Fatalf("expected reply, got %q", got)
	}
}

func TestRegisterProvidersRequiresKeys(t *testing.T) {
	reg := receptionist.NewProviderRegistry()
	registerProviders(reg)
	_, err := reg.BuildLLM(receptionist.VendorConfig{Provider: "openai", Settings: map[string]any{"model": "gpt-4o-mini"}})
	if err == nil || !strings.Contains(err.Error(), "api_key") {
		t.Fatalf("expected missing api_key error, got %v", err)
	}
	_, err = reg.BuildLLM(receptionist.VendorConfig{Provider: "mock", Settings: map[string]any{"unknown": true}})
	if err == nil {
		t.Fatalf("expected unknown key to be rejected")
	}
	if _, err := reg.BuildTTS(receptionist.VendorConfig{Provider: "voicevox"}); err != nil {
		t.Fatalf("voicevox defaults: %v", err)
	}
	if _, err := reg.BuildSTT(receptionist.VendorConfig{Provider: "passthrough"}); err != nil {
		t.Fatalf("passthrough: %v", err)
	}
}
